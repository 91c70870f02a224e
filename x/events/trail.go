package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	DefaultCapacity       = 10_000
	DefaultNotifyTimeout  = 5 * time.Second
	defaultListLimit      = 100
	subscriberBufferDepth = 256
)

// SubscriberFn is invoked for every appended event, outside the trail lock.
type SubscriberFn func(ctx context.Context, e Event) error

type subscriber struct {
	name string
	fn   SubscriberFn
	ch   chan Event
}

// Trail is a bounded append-only event log. Subscribers receive events in
// append order on their own goroutine, each call bounded by a timeout.
type Trail struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	nextSeq  uint64

	subs    []*subscriber
	timeout time.Duration
	wg      sync.WaitGroup
	closed  bool

	dropped     atomic.Uint64
	dropCounter *prometheus.CounterVec

	log zerolog.Logger
}

type TrailOption func(*Trail)

func WithCapacity(n int) TrailOption {
	return func(t *Trail) {
		if n > 0 {
			t.capacity = n
		}
	}
}

func WithNotifyTimeout(d time.Duration) TrailOption {
	return func(t *Trail) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDropCounter counts events dropped for a full subscriber queue. The
// vector takes one label, the subscriber name.
func WithDropCounter(c *prometheus.CounterVec) TrailOption {
	return func(t *Trail) { t.dropCounter = c }
}

func NewTrail(log zerolog.Logger, opts ...TrailOption) *Trail {
	t := &Trail{
		capacity: DefaultCapacity,
		timeout:  DefaultNotifyTimeout,
		log:      log.With().Str("component", "event-trail").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers fn. Subscribers added after Close are ignored.
func (t *Trail) Subscribe(name string, fn SubscriberFn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	s := &subscriber{name: name, fn: fn, ch: make(chan Event, subscriberBufferDepth)}
	t.subs = append(t.subs, s)
	t.wg.Add(1)
	go t.run(s)
}

func (t *Trail) Append(events ...Event) {
	t.mu.Lock()
	appended := make([]Event, 0, len(events))
	for _, e := range events {
		t.nextSeq++
		e.Seq = t.nextSeq
		t.events = append(t.events, e)
		appended = append(appended, e)
	}
	if over := len(t.events) - t.capacity; over > 0 {
		t.events = append(t.events[:0:0], t.events[over:]...)
	}
	if !t.closed {
		t.fanOutLocked(appended)
	}
	t.mu.Unlock()

	for _, e := range appended {
		t.log.Debug().
			Uint64("seq", e.Seq).
			Str("kind", string(e.Kind)).
			Str("chain", e.Chain).
			Msg("Event recorded")
	}
}

// fanOutLocked never blocks. Events for a full subscriber queue are dropped.
func (t *Trail) fanOutLocked(appended []Event) {
	for _, s := range t.subs {
		for _, e := range appended {
			select {
			case s.ch <- e:
			default:
				t.dropped.Add(1)
				if t.dropCounter != nil {
					t.dropCounter.WithLabelValues(s.name).Inc()
				}
				t.log.Warn().
					Str("subscriber", s.name).
					Uint64("seq", e.Seq).
					Msg("Subscriber queue full, dropping event")
			}
		}
	}
}

// Since returns retained events with Seq > seq, oldest first.
func (t *Trail) Since(seq uint64) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.events {
		if e.Seq > seq {
			return append([]Event(nil), t.events[i:]...)
		}
	}
	return nil
}

// List returns up to limit most recent events, optionally filtered by kind.
// An empty kind matches everything.
func (t *Trail) List(kind Kind, limit int) []Event {
	if limit <= 0 {
		limit = defaultListLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Event, 0, min(limit, len(t.events)))
	for i := len(t.events) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || t.events[i].Kind == kind {
			out = append(out, t.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Dropped returns how many subscriber deliveries were dropped.
func (t *Trail) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Trail) LastSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextSeq
}

// Close stops subscribers after they drain their queues.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, s := range t.subs {
		close(s.ch)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Trail) run(s *subscriber) {
	defer t.wg.Done()
	for e := range s.ch {
		t.notify(s, e)
	}
}

func (t *Trail) notify(s *subscriber, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	if err := s.fn(ctx, e); err != nil {
		t.log.Error().
			Err(err).
			Str("subscriber", s.name).
			Uint64("seq", e.Seq).
			Str("kind", string(e.Kind)).
			Msg("Event subscriber failed")
	}
}
