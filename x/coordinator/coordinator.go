package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/dispatch"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/ledger"
	"github.com/compose-network/identity-relay/x/ratelimit"
	"github.com/compose-network/identity-relay/x/replay"
	"github.com/compose-network/identity-relay/x/valueledger"
)

// DefaultEscrowAccount holds bridged value when no escrow account is configured.
var DefaultEscrowAccount = common.BytesToAddress(crypto.Keccak256([]byte("identity-relay.escrow")))

// Coordinator owns the request ledger of one chain and is the only writer of
// it. Every entry point runs under one mutex and either commits all of its
// effects or none.
type Coordinator struct {
	mu sync.Mutex

	registry *chains.Registry
	limiter  ratelimit.Limiter
	guard    replay.Guard
	outbound *dispatch.Outbound
	inbound  *dispatch.Inbound
	identity identity.Store
	value    valueledger.Store
	access   access.Store
	sink     events.Sink
	now      func() time.Time
	metrics  *Metrics

	localChain  string
	escrow      common.Address
	cooldown    time.Duration
	autoRespond bool

	verifications *ledger.RequestTable[ledger.Verification]
	credentials   *ledger.RequestTable[ledger.Credential]
	roleSyncs     *ledger.RequestTable[ledger.RoleSync]
	transfers     *ledger.RequestTable[ledger.TokenTransfer]

	log zerolog.Logger
}

// New creates a coordinator. A provider, its address and the local chain name
// are required; every other collaborator has an in-memory default.
func New(log zerolog.Logger, opts ...Option) (*Coordinator, error) {
	cfg := &Config{
		Cooldown: ratelimit.DefaultCooldown,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Provider == nil {
		return nil, fmt.Errorf("transport provider is required")
	}
	if cfg.ProviderAddress == (common.Address{}) {
		return nil, fmt.Errorf("transport provider address is required")
	}
	if strings.TrimSpace(cfg.LocalChain) == "" {
		return nil, fmt.Errorf("local chain name is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative")
	}

	logger := log.With().Str("component", "coordinator").Str("chain", cfg.LocalChain).Logger()

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Registry == nil {
		cfg.Registry = chains.NewRegistry()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewMemory(0)
	}
	if cfg.Guard == nil {
		cfg.Guard = replay.NewMemory(0, cfg.Clock)
	}
	if cfg.Identity == nil {
		cfg.Identity = identity.NewMemory()
	}
	if cfg.ValueLedger == nil {
		cfg.ValueLedger = valueledger.NewMemory()
	}
	if cfg.Access == nil {
		cfg.Access = access.NewMemory()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewTrail(log)
	}
	if cfg.EscrowAccount == (common.Address{}) {
		cfg.EscrowAccount = DefaultEscrowAccount
	}
	if cfg.Metrics == nil {
		cfg.Metrics = newPrivateMetrics()
	}

	c := &Coordinator{
		registry:      cfg.Registry,
		limiter:       cfg.Limiter,
		guard:         cfg.Guard,
		outbound:      dispatch.NewOutbound(cfg.Registry, cfg.Provider, cfg.LocalChain, cfg.Clock, log),
		inbound:       dispatch.NewInbound(cfg.Registry, cfg.Guard, cfg.ProviderAddress, log),
		identity:      cfg.Identity,
		value:         cfg.ValueLedger,
		access:        cfg.Access,
		sink:          cfg.Events,
		now:           cfg.Clock,
		metrics:       cfg.Metrics,
		localChain:    cfg.LocalChain,
		escrow:        cfg.EscrowAccount,
		cooldown:      cfg.Cooldown,
		autoRespond:   cfg.AutoRespond,
		verifications: ledger.NewRequestTable[ledger.Verification](ledger.KindVerification),
		credentials:   ledger.NewRequestTable[ledger.Credential](ledger.KindCredentialVerification),
		roleSyncs:     ledger.NewRequestTable[ledger.RoleSync](ledger.KindRoleSync),
		transfers:     ledger.NewRequestTable[ledger.TokenTransfer](ledger.KindTokenTransfer),
		log:           logger,
	}

	logger.Info().
		Str("provider", cfg.ProviderAddress.Hex()).
		Str("escrow", cfg.EscrowAccount.Hex()).
		Dur("cooldown", cfg.Cooldown).
		Bool("auto_respond", cfg.AutoRespond).
		Msg("Coordinator initialized")

	return c, nil
}

func (c *Coordinator) LocalChain() string {
	return c.localChain
}

func (c *Coordinator) EscrowAccount() common.Address {
	return c.escrow
}

// run executes fn as one all-or-nothing invocation.
func (c *Coordinator) run(ctx context.Context, op string, fn func(j *journal) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	j := newJournal(c.now())

	err := fn(j)
	if err != nil {
		j.abort(ctx, c.sink, c.log)
		c.metrics.RecordError(kindLabel(err), op)
		c.log.Debug().Err(err).Str("operation", op).Msg("Invocation rolled back")
	} else {
		j.commit(c.sink)
	}

	c.metrics.observe(op, start, err)
	c.refreshGaugesLocked()
	return err
}

func (c *Coordinator) refreshGaugesLocked() {
	c.metrics.PendingRequests.WithLabelValues(string(ledger.KindVerification)).Set(float64(c.verifications.Pending()))
	c.metrics.PendingRequests.WithLabelValues(string(ledger.KindCredentialVerification)).Set(float64(c.credentials.Pending()))
	c.metrics.PendingRequests.WithLabelValues(string(ledger.KindRoleSync)).Set(float64(c.roleSyncs.Pending()))
	c.metrics.PendingRequests.WithLabelValues(string(ledger.KindTokenTransfer)).Set(float64(c.transfers.Pending()))
	c.metrics.Nonce.Set(float64(c.outbound.Nonce()))
}

func (c *Coordinator) isAdmin(caller common.Address) bool {
	return c.access.HasRole(access.AdminRole, caller)
}

func (c *Coordinator) requireAdmin(caller common.Address) error {
	if !c.isAdmin(caller) {
		return newError(KindUnauthorized, "admin role required").WithContext("caller", caller.Hex())
	}
	return nil
}

func (c *Coordinator) requireOracle(caller common.Address) error {
	if !c.access.HasRole(access.OracleRole, caller) {
		return newError(KindUnauthorized, "oracle role required").WithContext("caller", caller.Hex())
	}
	return nil
}

func (c *Coordinator) requireTarget(target string) error {
	if !c.registry.IsSupported(target) {
		return newError(KindUnsupportedChain, "target chain is not registered").WithContext("chain", target)
	}
	return nil
}

// throttle applies the caller cooldown. Admins are exempt. A rejected call
// still emits rate-limit-exceeded.
func (c *Coordinator) throttle(ctx context.Context, j *journal, caller common.Address, target string) error {
	if c.isAdmin(caller) {
		return nil
	}

	res, err := c.limiter.CheckAndRecord(ctx, caller, c.cooldown, j.at)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrRateLimited) {
			return fmt.Errorf("rate limiter: %w", err)
		}
		c.metrics.RateLimitedTotal.Inc()

		e := c.event(j, events.KindRateLimitExceeded, caller)
		e.Chain = target
		if retryAt, ok := ratelimit.RetryAt(err); ok {
			e = e.WithAttr("retry_at", retryAt.UTC().Format(time.RFC3339))
		}
		j.emitAlways(e)
		return newError(KindRateLimited, "request cooldown has not elapsed").WithCause(err)
	}

	j.onAbort(res.Cancel)
	return nil
}

func (c *Coordinator) event(j *journal, kind events.Kind, caller common.Address) events.Event {
	e := events.New(kind, j.at)
	e.Caller = caller
	return e
}

// send publishes msg and maps dispatcher failures onto coordinator errors.
func (c *Coordinator) send(ctx context.Context, target string, msg envelope.Message) (dispatch.Sent, error) {
	sent, err := c.outbound.SendMessage(ctx, target, msg)
	if err != nil {
		return dispatch.Sent{}, outboundError(target, err)
	}
	return sent, nil
}

func (c *Coordinator) sendRaw(ctx context.Context, target string, t envelope.Type, payload []byte) (dispatch.Sent, error) {
	sent, err := c.outbound.Send(ctx, target, t, payload)
	if err != nil {
		return dispatch.Sent{}, outboundError(target, err)
	}
	return sent, nil
}

func outboundError(target string, err error) error {
	switch {
	case errors.Is(err, dispatch.ErrUnsupportedChain):
		return newError(KindUnsupportedChain, "target chain is not registered").WithCause(err).WithContext("chain", target)
	case errors.Is(err, dispatch.ErrPublish):
		return newError(KindDispatch, "transport publish failed").WithCause(err).WithContext("chain", target)
	default:
		return newError(KindInvalidInput, "cannot encode message").WithCause(err)
	}
}

func tableError(err error, id uint64) error {
	switch {
	case errors.Is(err, ledger.ErrUnknownID):
		return newError(KindInvalidRequestID, "unknown request id").WithCause(err).WithContext("id", id)
	case errors.Is(err, ledger.ErrAlreadyResolved):
		return newError(KindAlreadyResolved, "request already resolved").WithCause(err).WithContext("id", id)
	default:
		return err
	}
}

// resolve moves a record to RESOLVED and registers the undo.
func resolve[P any](j *journal, t *ledger.RequestTable[P], id uint64, mutate func(*P)) (ledger.Record[P], error) {
	snapshot, err := t.Get(id)
	if err != nil {
		return ledger.Record[P]{}, tableError(err, id)
	}
	rec, err := t.Resolve(id, j.at, mutate)
	if err != nil {
		return ledger.Record[P]{}, tableError(err, id)
	}
	j.onAbort(func(context.Context) error { return t.Reopen(snapshot) })
	return rec, nil
}

// insert allocates the next id of t and registers its release.
func insert[P any](j *journal, t *ledger.RequestTable[P], source, target string, payload P) ledger.Record[P] {
	rec := t.Insert(source, target, j.at, payload)
	j.onAbort(func(context.Context) error { return t.Rollback(rec.ID) })
	return rec
}
