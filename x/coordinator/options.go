package coordinator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/ratelimit"
	"github.com/compose-network/identity-relay/x/replay"
	"github.com/compose-network/identity-relay/x/transport"
	"github.com/compose-network/identity-relay/x/valueledger"
)

// Option configures the coordinator
type Option func(*Config)

// Config holds coordinator collaborators and settings
type Config struct {
	Registry        *chains.Registry
	Limiter         ratelimit.Limiter
	Guard           replay.Guard
	Provider        transport.Provider
	Identity        identity.Store
	ValueLedger     valueledger.Store
	Access          access.Store
	Events          events.Sink
	Clock           func() time.Time
	LocalChain      string
	ProviderAddress common.Address
	EscrowAccount   common.Address
	Cooldown        time.Duration
	AutoRespond     bool
	Metrics         *Metrics
}

func WithRegistry(r *chains.Registry) Option {
	return func(c *Config) { c.Registry = r }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Config) { c.Limiter = l }
}

func WithGuard(g replay.Guard) Option {
	return func(c *Config) { c.Guard = g }
}

// WithProvider sets the transport used for every outbound envelope.
func WithProvider(p transport.Provider) Option {
	return func(c *Config) { c.Provider = p }
}

func WithIdentity(s identity.Store) Option {
	return func(c *Config) { c.Identity = s }
}

func WithValueLedger(s valueledger.Store) Option {
	return func(c *Config) { c.ValueLedger = s }
}

func WithAccess(s access.Store) Option {
	return func(c *Config) { c.Access = s }
}

// WithTrail sets where committed events go.
func WithTrail(sink events.Sink) Option {
	return func(c *Config) { c.Events = sink }
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Clock = now }
}

// WithLocalChain names the chain this coordinator runs on. The name salts
// outbound fingerprints.
func WithLocalChain(name string) Option {
	return func(c *Config) { c.LocalChain = name }
}

// WithProviderAddress sets the only caller accepted by OnMessage.
func WithProviderAddress(addr common.Address) Option {
	return func(c *Config) { c.ProviderAddress = addr }
}

// WithEscrowAccount sets the account that holds bridged value until completion.
func WithEscrowAccount(addr common.Address) Option {
	return func(c *Config) { c.EscrowAccount = addr }
}

func WithCooldown(d time.Duration) Option {
	return func(c *Config) { c.Cooldown = d }
}

// WithAutoRespond makes inbound verification and credential requests answer
// themselves from the identity store.
func WithAutoRespond(enabled bool) Option {
	return func(c *Config) { c.AutoRespond = enabled }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
