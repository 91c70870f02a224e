package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-client-IP token bucket in front of the API.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	log      zerolog.Logger
}

func NewThrottle(perSecond float64, burst int, log zerolog.Logger) *Throttle {
	return &Throttle{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		log:      log,
	}
}

func (t *Throttle) limiter(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Handler rejects requests over the bucket with 429.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !t.limiter(key, time.Now()).Allow() {
			t.log.Warn().Str("client", key).Str("path", r.URL.Path).Msg("Client throttled")
			w.Header().Set("Retry-After", "1")
			WriteProblem(w, r, http.StatusTooManyRequests, "throttled", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep drops visitors idle for longer than the idle window.
func (t *Throttle) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idle {
			delete(t.visitors, k)
			removed++
		}
	}
	return removed
}

// Run sweeps idle visitors until ctx is done.
func (t *Throttle) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := t.Sweep(now); n > 0 {
				t.log.Debug().Int("removed", n).Msg("Swept idle visitors")
			}
		}
	}
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
