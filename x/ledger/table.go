package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUnknownID       = errors.New("unknown request id")
	ErrAlreadyResolved = errors.New("request already resolved")
	ErrNotLast         = errors.New("only the most recent request can be rolled back")
	ErrNotResolved     = errors.New("request is not resolved")
)

// Record is one row of a request table.
type Record[P any] struct {
	ID          uint64    `json:"id"`
	SourceChain string    `json:"source_chain"`
	TargetChain string    `json:"target_chain"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
	State       State     `json:"state"`
	Payload     P         `json:"payload"`
}

// RequestTable is an append-only table of requests with 0-indexed ids.
// Resolve mutates the payload through a callback while holding the table lock.
type RequestTable[P any] struct {
	kind Kind

	mu      sync.RWMutex
	records []Record[P]
	pending int
}

func NewRequestTable[P any](kind Kind) *RequestTable[P] {
	return &RequestTable[P]{kind: kind}
}

func (t *RequestTable[P]) Kind() Kind {
	return t.kind
}

// Insert appends a pending record and returns it with its allocated id.
func (t *RequestTable[P]) Insert(source, target string, createdAt time.Time, payload P) Record[P] {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := Record[P]{
		ID:          uint64(len(t.records)),
		SourceChain: source,
		TargetChain: target,
		CreatedAt:   createdAt,
		State:       StatePending,
		Payload:     payload,
	}
	t.records = append(t.records, rec)
	t.pending++
	return rec
}

// Rollback removes the record with the highest id, releasing the id.
func (t *RequestTable[P]) Rollback(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := uint64(len(t.records))
	if n == 0 || id != n-1 {
		return fmt.Errorf("%s table: %w (id %d)", t.kind, ErrNotLast, id)
	}
	if t.records[id].State == StatePending {
		t.pending--
	}
	t.records = t.records[:id]
	return nil
}

func (t *RequestTable[P]) Get(id uint64) (Record[P], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id >= uint64(len(t.records)) {
		return Record[P]{}, fmt.Errorf("%s table: %w %d", t.kind, ErrUnknownID, id)
	}
	return t.records[id], nil
}

// Resolve moves a pending record to resolved after applying mutate to its payload.
func (t *RequestTable[P]) Resolve(id uint64, at time.Time, mutate func(*P)) (Record[P], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id >= uint64(len(t.records)) {
		return Record[P]{}, fmt.Errorf("%s table: %w %d", t.kind, ErrUnknownID, id)
	}
	rec := &t.records[id]
	if rec.State != StatePending {
		return *rec, fmt.Errorf("%s table: request %d: %w", t.kind, id, ErrAlreadyResolved)
	}
	if mutate != nil {
		mutate(&rec.Payload)
	}
	rec.State = StateResolved
	rec.ResolvedAt = at
	t.pending--
	return *rec, nil
}

// Reopen restores a resolved record to the given snapshot. It exists only to
// undo a Resolve performed by an invocation that is being rolled back.
func (t *RequestTable[P]) Reopen(snapshot Record[P]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := snapshot.ID
	if id >= uint64(len(t.records)) {
		return fmt.Errorf("%s table: %w %d", t.kind, ErrUnknownID, id)
	}
	if t.records[id].State != StateResolved {
		return fmt.Errorf("%s table: request %d: %w", t.kind, id, ErrNotResolved)
	}
	t.records[id] = snapshot
	if snapshot.State == StatePending {
		t.pending++
	}
	return nil
}

// Len is the number of allocated ids, which is also the next id.
func (t *RequestTable[P]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *RequestTable[P]) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// List returns up to limit records starting at offset. limit <= 0 returns the rest.
func (t *RequestTable[P]) List(offset, limit int) []Record[P] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.records) {
		return []Record[P]{}
	}
	end := len(t.records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Record[P], end-offset)
	copy(out, t.records[offset:end])
	return out
}
