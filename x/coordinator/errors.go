package coordinator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies coordinator failures.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota + 1
	KindUnsupportedChain
	KindInvalidRequestID
	KindAlreadyResolved
	KindRateLimited
	KindEscrowFailed
	KindInvalidInput
	KindDispatch
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidRequestID = errors.New("invalid request id")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrRateLimited      = errors.New("rate limited")
	ErrEscrowFailed     = errors.New("escrow failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDispatch         = errors.New("dispatch failed")
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindUnsupportedChain:
		return "unsupported_chain"
	case KindInvalidRequestID:
		return "invalid_request_id"
	case KindAlreadyResolved:
		return "already_resolved"
	case KindRateLimited:
		return "rate_limited"
	case KindEscrowFailed:
		return "escrow_failed"
	case KindInvalidInput:
		return "invalid_input"
	case KindDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindUnsupportedChain:
		return ErrUnsupportedChain
	case KindInvalidRequestID:
		return ErrInvalidRequestID
	case KindAlreadyResolved:
		return ErrAlreadyResolved
	case KindRateLimited:
		return ErrRateLimited
	case KindEscrowFailed:
		return ErrEscrowFailed
	case KindInvalidInput:
		return ErrInvalidInput
	case KindDispatch:
		return ErrDispatch
	default:
		return nil
	}
}

// Error is the terminal failure of one coordinator invocation. Nothing the
// invocation did before failing remains visible.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("relay %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("relay %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func kindLabel(err error) string {
	if k, ok := KindOf(err); ok {
		return k.String()
	}
	return "internal"
}
