package transport

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNoRoute = errors.New("no receiver attached for transport id")

// Provider publishes an encoded envelope to the chain with transportID and
// returns the provider-assigned sequence number.
type Provider interface {
	Publish(ctx context.Context, nonce uint64, payload []byte, transportID uint16) (uint64, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, nonce uint64, payload []byte, transportID uint16) (uint64, error)

func (f ProviderFunc) Publish(ctx context.Context, nonce uint64, payload []byte, transportID uint16) (uint64, error) {
	return f(ctx, nonce, payload, transportID)
}

// Delivery is a message handed to a coordinator by the transport provider.
type Delivery struct {
	Caller            common.Address
	SourceTransportID uint16
	SourceAddress     []byte
	Sequence          uint64
	Payload           []byte
}

// Receiver accepts inbound deliveries.
type Receiver interface {
	Receive(ctx context.Context, d Delivery) error
}
