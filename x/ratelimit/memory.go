package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/prque"
)

var _ Limiter = (*Memory)(nil)

// Memory keeps the last request time of every caller, ordered oldest first.
type Memory struct {
	mu      sync.Mutex
	last    map[common.Address]*entry
	order   *prque.Prque[int64, *entry]
	maxKeys int
}

type entry struct {
	caller common.Address
	at     time.Time
	index  int
}

// NewMemory returns a limiter. maxKeys <= 0 means unbounded. The bound only
// evicts callers whose cooldown has elapsed, so a burst of distinct callers
// inside one cooldown may exceed it.
func NewMemory(maxKeys int) *Memory {
	return &Memory{
		last:    make(map[common.Address]*entry),
		order:   prque.New[int64, *entry](func(e *entry, i int) { e.index = i }),
		maxKeys: maxKeys,
	}
}

func (m *Memory) CheckAndRecord(
	_ context.Context,
	caller common.Address,
	cooldown time.Duration,
	now time.Time,
) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		prev time.Time
		had  bool
	)
	if e, ok := m.last[caller]; ok {
		prev, had = e.at, true
		if retryAt := prev.Add(cooldown); now.Before(retryAt) {
			return nil, &LimitedError{Caller: caller, RetryAt: retryAt}
		}
	}

	m.setLocked(caller, now)
	if !had {
		m.evictLocked(caller, cooldown, now)
	}

	return newReservation(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.last[caller]; !ok || !cur.at.Equal(now) {
			return nil
		}
		if had {
			m.setLocked(caller, prev)
		} else {
			m.deleteLocked(caller)
		}
		return nil
	}), nil
}

func (m *Memory) Last(_ context.Context, caller common.Address) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.last[caller]; ok {
		return e.at, true, nil
	}
	return time.Time{}, false, nil
}

// Len returns the number of tracked callers.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

func (m *Memory) setLocked(caller common.Address, at time.Time) {
	e, ok := m.last[caller]
	if ok {
		m.order.Remove(e.index)
		e.at = at
	} else {
		e = &entry{caller: caller, at: at}
		m.last[caller] = e
	}
	// the queue pops the greatest priority first
	m.order.Push(e, -at.UnixNano())
}

func (m *Memory) deleteLocked(caller common.Address) {
	if e, ok := m.last[caller]; ok {
		m.order.Remove(e.index)
		delete(m.last, caller)
	}
}

// evictLocked drops the oldest entries while maxKeys is exceeded and their
// cooldown has elapsed. An entry still cooling down is never dropped.
func (m *Memory) evictLocked(keep common.Address, cooldown time.Duration, now time.Time) {
	if m.maxKeys <= 0 {
		return
	}
	for len(m.last) > m.maxKeys && !m.order.Empty() {
		oldest, _ := m.order.Peek()
		if oldest.caller == keep || now.Before(oldest.at.Add(cooldown)) {
			return
		}
		m.order.Pop()
		delete(m.last, oldest.caller)
	}
}
