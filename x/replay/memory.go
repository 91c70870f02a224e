package replay

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var _ Guard = (*Memory)(nil)

type Memory struct {
	mu     sync.Mutex
	seen   map[common.Hash]time.Time
	window Window
	now    func() time.Time
}

// NewMemory returns an in-memory guard. now defaults to time.Now.
func NewMemory(window time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		seen:   make(map[common.Hash]time.Time),
		window: Window(window),
		now:    now,
	}
}

func (m *Memory) AdmitOnce(_ context.Context, fp common.Hash, sentAt time.Time) (Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[fp]; ok {
		return Duplicate, nil
	}
	if !m.window.accepts(sentAt, m.now()) {
		return Expired, nil
	}
	m.seen[fp] = sentAt
	return Admitted, nil
}

func (m *Memory) Forget(_ context.Context, fp common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, fp)
	return nil
}

func (m *Memory) Prune(_ context.Context, now time.Time) (int, error) {
	if !m.window.bounded() {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(m.window))

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp, sentAt := range m.seen {
		if sentAt.Before(cutoff) {
			delete(m.seen, fp)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
