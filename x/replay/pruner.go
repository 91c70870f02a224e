package replay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPruneInterval is used when PrunerConfig.Interval is zero.
const DefaultPruneInterval = time.Hour

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	Guard    Guard
	Interval time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
	// OnPrune is invoked after every sweep with the number of removed entries.
	OnPrune func(removed int)
}

// Pruner periodically evicts fingerprints that fell out of the guard's window.
type Pruner struct {
	cfg PrunerConfig
	log zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewPruner(cfg PrunerConfig) *Pruner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPruneInterval
	}
	return &Pruner{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "replay-pruner").Logger(),
	}
}

// Start launches the sweep loop. It is a no-op if already running.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.run(runCtx, p.done)

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("Replay pruner started")
	return nil
}

// Stop halts the loop and waits for it to exit.
func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep runs one prune pass.
func (p *Pruner) Sweep(ctx context.Context) int {
	removed, err := p.cfg.Guard.Prune(ctx, p.cfg.Now())
	if err != nil {
		p.log.Error().Err(err).Msg("Replay prune failed")
		return 0
	}
	if removed > 0 {
		p.log.Debug().Int("removed", removed).Int("remaining", p.cfg.Guard.Len()).Msg("Pruned replay fingerprints")
	}
	if p.cfg.OnPrune != nil {
		p.cfg.OnPrune(removed)
	}
	return removed
}

func (p *Pruner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}
