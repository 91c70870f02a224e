package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/metrics"
	"github.com/compose-network/identity-relay/relay-coordinator-app/config"
	apisrv "github.com/compose-network/identity-relay/server/api"
	apimw "github.com/compose-network/identity-relay/server/api/middleware"
	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/codec"
	"github.com/compose-network/identity-relay/x/coordinator"
	relayhttp "github.com/compose-network/identity-relay/x/coordinator/http"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/ratelimit"
	"github.com/compose-network/identity-relay/x/replay"
	"github.com/compose-network/identity-relay/x/store"
	"github.com/compose-network/identity-relay/x/transport"
	transporthttp "github.com/compose-network/identity-relay/x/transport/http"
	"github.com/compose-network/identity-relay/x/transport/loopback"
	"github.com/compose-network/identity-relay/x/valueledger"
)

// App represents the relay coordinator application
type App struct {
	cfg *config.Config
	log zerolog.Logger

	registry *chains.Registry
	limiter  ratelimit.Limiter
	guard    replay.Guard
	pruner   *replay.Pruner

	// signed API requests already seen
	signatures replay.Guard
	sigPruner  *replay.Pruner

	trail   *events.Trail
	archive *store.Archive
	frames  *codec.FrameCodec

	network     *loopback.Network
	coordinator *coordinator.Coordinator
	peers       map[string]*coordinator.Coordinator

	// API server (HTTP)
	apiServer *apisrv.Server
	throttle  *apimw.Throttle

	startedAt   time.Time
	shutdownFns []func() error
	cancel      context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		peers:       make(map[string]*coordinator.Coordinator),
		frames:      codec.NewFrameCodec(cfg.Transport.MaxMessageSize),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(ctx); err != nil {
		app.runShutdownFns()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context) error {
	if err := a.initializeRegistry(); err != nil {
		return err
	}
	if err := a.initializeReplayAndLimiter(ctx); err != nil {
		return err
	}
	if err := a.initializeEvents(ctx); err != nil {
		return err
	}

	provider, err := a.initializeTransport()
	if err != nil {
		return err
	}
	if err := a.initializeCoordinator(provider); err != nil {
		return err
	}
	if err := a.initializePeers(); err != nil {
		return err
	}

	return a.initializeAPIServer()
}

func (a *App) initializeRegistry() error {
	a.registry = chains.NewRegistry()
	for _, ch := range a.cfg.Chains {
		if err := a.registry.SetEndpoint(ch.Name, ch.Descriptor, ch.TransportID); err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
	}
	return nil
}

// initializeReplayAndLimiter picks Redis or in-memory backends for the
// cooldown limiter, the replay guard and the API signature guard.
func (a *App) initializeReplayAndLimiter(ctx context.Context) error {
	if a.cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.shutdownFns = append(a.shutdownFns, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
		}

		a.limiter = ratelimit.NewRedisWithClient(client, a.cfg.Redis.Prefix+":cooldown:")
		a.guard = replay.NewRedisWithClient(client, a.cfg.Redis.Prefix+":replay:", a.cfg.Relay.ReplayWindow)
		a.signatures = replay.NewRedisWithClient(client, a.cfg.Redis.Prefix+":signatures:", a.signatureWindow())
		a.log.Info().Str("addr", a.cfg.Redis.Addr).Msg("Using Redis limiter and replay guard")
	} else {
		a.limiter = ratelimit.NewMemory(a.cfg.Relay.LimiterMaxKeys)
		a.guard = replay.NewMemory(a.cfg.Relay.ReplayWindow, time.Now)
		a.signatures = replay.NewMemory(a.signatureWindow(), time.Now)
	}

	a.pruner = replay.NewPruner(replay.PrunerConfig{
		Guard:    a.guard,
		Interval: a.cfg.Relay.PruneInterval,
		Logger:   a.log,
	})
	a.sigPruner = replay.NewPruner(replay.PrunerConfig{
		Guard:    a.signatures,
		Interval: a.cfg.Relay.PruneInterval,
		Logger:   a.log.With().Str("guard", "signatures").Logger(),
	})
	return nil
}

// signatureWindow keeps a signed request on record for as long as its
// timestamp could still pass the skew check.
func (a *App) signatureWindow() time.Duration {
	skew := a.cfg.API.SignatureSkew
	if skew <= 0 {
		skew = apimw.DefaultSignatureSkew
	}
	return 2 * skew
}

func (a *App) initializeEvents(ctx context.Context) error {
	dropped := metrics.NewComponentRegistry("relay", "events").NewCounterVec(prometheus.CounterOpts{
		Name: "subscriber_dropped_total",
		Help: "Events dropped because a subscriber queue was full",
	}, []string{"subscriber"})
	a.trail = events.NewTrail(a.log,
		events.WithCapacity(a.cfg.Events.Capacity),
		events.WithNotifyTimeout(a.cfg.Events.NotifyTimeout),
		events.WithDropCounter(dropped),
	)
	a.shutdownFns = append(a.shutdownFns, func() error {
		a.trail.Close()
		return nil
	})

	if !a.cfg.Archive.Enabled {
		return nil
	}

	gdb, err := store.Open(a.cfg.Archive.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		a.shutdownFns = append(a.shutdownFns, sqlDB.Close)
	}

	a.archive = store.NewArchive(gdb, a.log)
	if a.cfg.Archive.AutoMigrate {
		if err := a.archive.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrate event archive: %w", err)
		}
	}
	a.trail.Subscribe("archive", a.archive.Subscriber())
	a.log.Info().Msg("Event archive enabled")
	return nil
}

// initializeTransport returns the provider the local coordinator publishes through.
func (a *App) initializeTransport() (transport.Provider, error) {
	switch a.cfg.Transport.Mode {
	case config.TransportHTTP:
		client, err := transporthttp.NewClient(
			a.cfg.Transport.URL,
			&http.Client{Timeout: a.cfg.Transport.Timeout},
			a.frames,
			a.log,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport client: %w", err)
		}
		return client, nil
	default:
		a.network = loopback.NewNetwork(common.HexToAddress(a.cfg.Relay.ProviderAddress), a.log)
		return a.network.Provider(a.cfg.Relay.TransportID, []byte(a.cfg.Relay.LocalChain)), nil
	}
}

func (a *App) initializeCoordinator(provider transport.Provider) error {
	identities, values, acl, err := seedStores(a.cfg)
	if err != nil {
		return err
	}

	opts := []coordinator.Option{
		coordinator.WithRegistry(a.registry),
		coordinator.WithLimiter(a.limiter),
		coordinator.WithGuard(a.guard),
		coordinator.WithProvider(provider),
		coordinator.WithProviderAddress(common.HexToAddress(a.cfg.Relay.ProviderAddress)),
		coordinator.WithLocalChain(a.cfg.Relay.LocalChain),
		coordinator.WithIdentity(identities),
		coordinator.WithValueLedger(values),
		coordinator.WithAccess(acl),
		coordinator.WithTrail(a.trail),
		coordinator.WithCooldown(a.cfg.Relay.Cooldown),
		coordinator.WithAutoRespond(a.cfg.Relay.AutoRespond),
	}
	if a.cfg.Relay.EscrowAccount != "" {
		opts = append(opts, coordinator.WithEscrowAccount(common.HexToAddress(a.cfg.Relay.EscrowAccount)))
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, coordinator.WithMetrics(
			coordinator.NewMetrics(metrics.NewComponentRegistry("relay", "coordinator")),
		))
	}

	c, err := coordinator.New(a.log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	a.coordinator = c

	if a.network != nil {
		a.network.Attach(a.cfg.Relay.TransportID, c)
	}
	return nil
}

// initializePeers runs the configured loopback peers in-process. Each peer
// sees every other configured chain, including the local one.
func (a *App) initializePeers() error {
	if a.network == nil {
		return nil
	}
	for _, name := range a.cfg.Transport.Peers {
		peer, _ := a.cfg.Peer(name)

		reg := chains.NewRegistry()
		if err := reg.SetEndpoint(a.cfg.Relay.LocalChain, a.cfg.Relay.LocalChain, a.cfg.Relay.TransportID); err != nil {
			return err
		}
		for _, ch := range a.cfg.Chains {
			if ch.Name == peer.Name {
				continue
			}
			if err := reg.SetEndpoint(ch.Name, ch.Descriptor, ch.TransportID); err != nil {
				return err
			}
		}

		identities, values, acl, err := seedStores(a.cfg)
		if err != nil {
			return err
		}
		c, err := coordinator.New(a.log,
			coordinator.WithRegistry(reg),
			coordinator.WithProvider(a.network.Provider(peer.TransportID, []byte(peer.Name))),
			coordinator.WithProviderAddress(a.network.Address()),
			coordinator.WithLocalChain(peer.Name),
			coordinator.WithIdentity(identities),
			coordinator.WithValueLedger(values),
			coordinator.WithAccess(acl),
			coordinator.WithCooldown(a.cfg.Relay.Cooldown),
			coordinator.WithAutoRespond(true),
		)
		if err != nil {
			return fmt.Errorf("peer %s: %w", peer.Name, err)
		}
		a.network.Attach(peer.TransportID, c)
		a.peers[peer.Name] = c
		a.log.Info().Str("peer", peer.Name).Uint16("transport_id", peer.TransportID).Msg("Loopback peer attached")
	}
	return nil
}

// seedStores builds in-memory identity, value and access stores from config.
func seedStores(cfg *config.Config) (*identity.Memory, *valueledger.Memory, *access.Memory, error) {
	identities := identity.NewMemory()
	values := valueledger.NewMemory()
	acl := access.NewMemory()

	for _, admin := range cfg.Access.Admins {
		acl.GrantRole(access.AdminRole, common.HexToAddress(admin))
	}
	for _, oracle := range cfg.Access.Oracles {
		acl.GrantRole(access.OracleRole, common.HexToAddress(oracle))
	}

	for _, t := range cfg.Tokens {
		if err := values.RegisterToken(t.Category, common.HexToAddress(t.Address)); err != nil {
			return nil, nil, nil, fmt.Errorf("token %s: %w", t.Category, err)
		}
	}

	now := time.Now()
	for _, seed := range cfg.Identities {
		owner := common.HexToAddress(seed.Owner)
		var credential common.Hash
		if seed.CredentialHash != "" {
			credential = common.HexToHash(seed.CredentialHash)
		}

		id, err := identities.Register(owner, seed.DID, credential)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("identity %s: %w", seed.DID, err)
		}
		for chain, addr := range seed.ChainAddresses {
			if err := identities.SetChainAddress(owner, id, chain, addr); err != nil {
				return nil, nil, nil, fmt.Errorf("identity %s: %w", seed.DID, err)
			}
		}
		if credential != (common.Hash{}) {
			if err := identities.StoreCredential(owner, credential, now); err != nil {
				return nil, nil, nil, fmt.Errorf("identity %s: %w", seed.DID, err)
			}
		}
		if err := identities.SetVerified(id, seed.Verified); err != nil {
			return nil, nil, nil, err
		}
	}
	return identities, values, acl, nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer() error {
	s := apisrv.NewServer(a.cfg.API, a.log)
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.RequestID())
	quiet := []string{"/health", "/ready"}
	if a.cfg.Metrics.Enabled {
		quiet = append(quiet, a.cfg.Metrics.Path)
	}
	s.Use(apimw.Logger(a.log, quiet...))
	if a.cfg.API.RateLimitPerSecond > 0 {
		a.throttle = apimw.NewThrottle(a.cfg.API.RateLimitPerSecond, a.cfg.API.RateLimitBurst, a.log)
		s.Use(a.throttle.Handler)
	}
	if a.cfg.API.EnableCORS {
		s.EnableCORS(a.cfg.API.CORSOrigins...)
	}

	// Health/readiness/stats
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Relay API
	relayhttp.NewHandler(a.coordinator, a.trail, a.frames, a.log,
		relayhttp.WithSignatureSkew(a.cfg.API.SignatureSkew),
		relayhttp.WithSignatureGuard(a.signatures),
	).RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.startedAt = time.Now()

	if err := a.pruner.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start replay pruner: %w", err)
	}
	if err := a.sigPruner.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start signature pruner: %w", err)
	}
	if a.network != nil {
		a.network.Start(runCtx, a.cfg.Transport.PumpInterval)
	}
	if a.throttle != nil {
		go a.throttle.Run(runCtx, time.Minute)
	}

	go a.metricsReporter(runCtx)

	// Start API server
	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
		}
	}()

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Str("local_chain", a.cfg.Relay.LocalChain).Msg("Identity relay started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown stops background loops, then releases stores.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.network != nil {
		a.network.Stop()
	}
	if err := a.pruner.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Replay pruner shutdown error")
	}
	if err := a.sigPruner.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Signature pruner shutdown error")
	}

	a.runShutdownFns()

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

func (a *App) runShutdownFns() {
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
		}
	}
	a.shutdownFns = nil
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleReady reports ready once at least one remote chain is dispatchable.
func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	supported := 0
	for _, ep := range a.registry.Endpoints() {
		if ep.Supported() {
			supported++
		}
	}

	status := "ready"
	code := http.StatusOK
	if supported == 0 {
		status = "no_chains"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":"%s","chains":%d}`, status, supported)
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.GetStats())
}

// GetStats returns application statistics.
func (a *App) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"coordinator":    a.coordinator.Stats(),
		"events":         a.trail.Len(),
		"last_event_seq": a.trail.LastSeq(),
		"events_dropped": a.trail.Dropped(),
		"transport":      a.cfg.Transport.Mode,
		"app_version":    Version,
		"app_build_time": BuildTime,
		"app_git_commit": GitCommit,
	}
	if !a.startedAt.IsZero() {
		stats["uptime_seconds"] = time.Since(a.startedAt).Seconds()
	}
	if a.network != nil {
		stats["loopback_pending"] = a.network.Pending()
		peers := make(map[string]coordinator.Stats, len(a.peers))
		for name, p := range a.peers {
			peers[name] = p.Stats()
		}
		stats["peers"] = peers
	}
	return stats
}

// metricsReporter periodically reports application statistics.
func (a *App) metricsReporter(ctx context.Context) {
	interval := a.cfg.Metrics.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.coordinator.Stats()
			evt := a.log.Info().
				Str("local_chain", st.LocalChain).
				Uint64("nonce", st.Nonce).
				Int("chains", st.Chains).
				Int("replay_entries", st.ReplayEntries).
				Int("events", a.trail.Len())
			for kind, ts := range st.Requests {
				evt = evt.Int(string(kind)+"_pending", ts.Pending)
			}
			evt.Msg("Identity relay statistics")
		}
	}
}
