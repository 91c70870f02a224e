package replay

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemory_AdmitOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemory(0, fixedClock(base))
	fp := crypto.Keccak256Hash([]byte("m1"))

	v, err := g.AdmitOnce(ctx, fp, base)
	require.NoError(t, err)
	require.Equal(t, Admitted, v)

	for i := 0; i < 3; i++ {
		v, err = g.AdmitOnce(ctx, fp, base)
		require.NoError(t, err)
		require.Equal(t, Duplicate, v)
	}
	assert.Equal(t, 1, g.Len())
}

func TestMemory_ForgetAllowsRedelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemory(0, fixedClock(base))
	fp := crypto.Keccak256Hash([]byte("m2"))

	v, _ := g.AdmitOnce(ctx, fp, base)
	require.Equal(t, Admitted, v)
	require.NoError(t, g.Forget(ctx, fp))

	v, _ = g.AdmitOnce(ctx, fp, base)
	require.Equal(t, Admitted, v)
}

func TestMemory_UnboundedNeverPrunes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemory(0, fixedClock(base))
	v, _ := g.AdmitOnce(ctx, crypto.Keccak256Hash([]byte("old")), base.Add(-365*24*time.Hour))
	require.Equal(t, Admitted, v, "unbounded guard ignores timestamps")

	removed, err := g.Prune(ctx, base.Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, g.Len())
}

func TestMemory_WindowRejectsStaleAndPrunes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewMemory(time.Hour, fixedClock(base))

	v, _ := g.AdmitOnce(ctx, crypto.Keccak256Hash([]byte("stale")), base.Add(-2*time.Hour))
	assert.Equal(t, Expired, v)
	v, _ = g.AdmitOnce(ctx, crypto.Keccak256Hash([]byte("future")), base.Add(2*time.Hour))
	assert.Equal(t, Expired, v)
	assert.Equal(t, 0, g.Len(), "expired messages are not recorded")

	old := crypto.Keccak256Hash([]byte("old"))
	fresh := crypto.Keccak256Hash([]byte("fresh"))
	v, _ = g.AdmitOnce(ctx, old, base.Add(-50*time.Minute))
	require.Equal(t, Admitted, v)
	v, _ = g.AdmitOnce(ctx, fresh, base)
	require.Equal(t, Admitted, v)

	removed, err := g.Prune(ctx, base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, g.Len())
}

func TestPruner_SweepsOnInterval(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	g := NewMemory(time.Minute, clock)
	v, _ := g.AdmitOnce(context.Background(), crypto.Keccak256Hash([]byte("x")), base)
	require.Equal(t, Admitted, v)

	mu.Lock()
	now = base.Add(2 * time.Minute)
	mu.Unlock()

	swept := make(chan int, 16)
	p := NewPruner(PrunerConfig{
		Guard:    g,
		Interval: 5 * time.Millisecond,
		Now:      clock,
		Logger:   zerolog.Nop(),
		OnPrune: func(n int) {
			select {
			case swept <- n:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx))

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sweep")
	}

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, 0, g.Len())
}

func TestRedis_AdmitOnce(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR_TEST"))
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}

	g, err := NewRedis(addr, "", 0, "relay:test:seen:", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	ctx := context.Background()
	fp := crypto.Keccak256Hash([]byte(t.Name() + time.Now().String()))

	v, err := g.AdmitOnce(ctx, fp, time.Now())
	require.NoError(t, err)
	require.Equal(t, Admitted, v)

	v, err = g.AdmitOnce(ctx, fp, time.Now())
	require.NoError(t, err)
	require.Equal(t, Duplicate, v)

	require.NoError(t, g.Forget(ctx, fp))
	v, err = g.AdmitOnce(ctx, fp, time.Now())
	require.NoError(t, err)
	require.Equal(t, Admitted, v)

	v, err = g.AdmitOnce(ctx, fp, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, Expired, v)
}

func TestMemory_DuplicateWinsOverExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var now = base
	g := NewMemory(time.Hour, func() time.Time { return now })
	fp := crypto.Keccak256Hash([]byte("late-dup"))

	v, _ := g.AdmitOnce(ctx, fp, base)
	require.Equal(t, Admitted, v)

	now = base.Add(2 * time.Hour)
	v, _ = g.AdmitOnce(ctx, fp, base)
	assert.Equal(t, Duplicate, v, "a recorded fingerprint stays a duplicate until pruned")

	_, err := g.Prune(ctx, now)
	require.NoError(t, err)
	v, _ = g.AdmitOnce(ctx, fp, base)
	assert.Equal(t, Expired, v)
}

func TestVerdict_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", Verdict(9).String())
}
