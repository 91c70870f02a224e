package dispatch

import (
	"errors"
)

var (
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrPublish            = errors.New("publish failed")
	ErrUnauthorized       = errors.New("caller is not the transport provider")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrReplayGuardFailure = errors.New("replay guard failure")
)

// Resolver maps chain names to provider transport ids and back.
type Resolver interface {
	ResolveTransportID(name string) uint16
	NameByTransportID(id uint16) (string, bool)
}
