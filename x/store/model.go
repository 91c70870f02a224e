package store

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/compose-network/identity-relay/x/events"
)

// EventModel is the persisted form of an events.Event.
type EventModel struct {
	ID          string    `gorm:"primaryKey;type:uuid"`
	Seq         uint64    `gorm:"not null;index"`
	Kind        string    `gorm:"not null;index"`
	Request     string    `gorm:"size:32"`
	RequestID   *uint64   ``
	Chain       string    `gorm:"index"`
	Caller      string    `gorm:"size:42;index"`
	Fingerprint string    `gorm:"size:66"`
	Attributes  []byte    `gorm:"type:jsonb"`
	At          time.Time `gorm:"not null;index"`
}

func (EventModel) TableName() string { return "relay_events" }

func eventModelFromDomain(e events.Event) (EventModel, error) {
	m := EventModel{
		ID:        e.ID.String(),
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Request:   e.Request,
		RequestID: e.RequestID,
		Chain:     e.Chain,
		At:        e.At.UTC().Truncate(time.Microsecond),
	}
	if e.Caller != (common.Address{}) {
		m.Caller = e.Caller.Hex()
	}
	if e.Fingerprint != (common.Hash{}) {
		m.Fingerprint = e.Fingerprint.Hex()
	}
	if len(e.Attributes) > 0 {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return EventModel{}, err
		}
		m.Attributes = attrs
	}
	return m, nil
}

func eventFromModel(m EventModel) (events.Event, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return events.Event{}, err
	}
	e := events.Event{
		ID:        id,
		Seq:       m.Seq,
		Kind:      events.Kind(m.Kind),
		Request:   m.Request,
		RequestID: m.RequestID,
		Chain:     m.Chain,
		At:        m.At.UTC(),
	}
	if m.Caller != "" {
		e.Caller = common.HexToAddress(m.Caller)
	}
	if m.Fingerprint != "" {
		e.Fingerprint = common.HexToHash(m.Fingerprint)
	}
	if len(m.Attributes) > 0 {
		if err := json.Unmarshal(m.Attributes, &e.Attributes); err != nil {
			return events.Event{}, err
		}
	}
	return e, nil
}
