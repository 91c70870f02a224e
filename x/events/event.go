package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Kind string

const (
	KindRequestCreated    Kind = "request-created"
	KindRequestCompleted  Kind = "request-completed"
	KindMessageReplayed   Kind = "message-replayed"
	KindMessageExpired    Kind = "message-expired"
	KindRateLimitExceeded Kind = "rate-limit-exceeded"
	KindMessageReceived   Kind = "message-received"
	KindAdminUpdated      Kind = "admin-updated"
	KindCredentialRevoked Kind = "credential-revoked"
)

// Event is an observable coordinator notification. Seq is assigned by the Trail.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Seq         uint64            `json:"seq"`
	Kind        Kind              `json:"kind"`
	Request     string            `json:"request,omitempty"`
	RequestID   *uint64           `json:"request_id,omitempty"`
	Chain       string            `json:"chain,omitempty"`
	Caller      common.Address    `json:"caller"`
	Fingerprint common.Hash       `json:"fingerprint"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	At          time.Time         `json:"at"`
}

func New(kind Kind, at time.Time) Event {
	return Event{ID: uuid.New(), Kind: kind, At: at}
}

func (e Event) WithRequest(kind string, id uint64) Event {
	e.Request = kind
	e.RequestID = &id
	return e
}

func (e Event) WithAttr(key, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// Sink receives committed events.
type Sink interface {
	Append(events ...Event)
}
