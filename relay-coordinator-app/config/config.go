package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	apisrv "github.com/compose-network/identity-relay/server/api"
)

// Config holds the complete application configuration
type Config struct {
	Relay      RelayConfig      `mapstructure:"relay"      yaml:"relay"`
	Chains     []ChainConfig    `mapstructure:"chains"     yaml:"chains"`
	Transport  TransportConfig  `mapstructure:"transport"  yaml:"transport"`
	Redis      RedisConfig      `mapstructure:"redis"      yaml:"redis"`
	Archive    ArchiveConfig    `mapstructure:"archive"    yaml:"archive"`
	Access     AccessConfig     `mapstructure:"access"     yaml:"access"`
	Tokens     []TokenConfig    `mapstructure:"tokens"     yaml:"tokens"`
	Identities []IdentityConfig `mapstructure:"identities" yaml:"identities"`
	API        apisrv.Config    `mapstructure:"api"        yaml:"api"`
	Events     EventsConfig     `mapstructure:"events"     yaml:"events"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log"        yaml:"log"`
}

// RelayConfig describes the local coordinator
type RelayConfig struct {
	LocalChain      string        `mapstructure:"local_chain"      yaml:"local_chain"      env:"RELAY_LOCAL_CHAIN"`
	TransportID     uint16        `mapstructure:"transport_id"     yaml:"transport_id"     env:"RELAY_TRANSPORT_ID"`
	ProviderAddress string        `mapstructure:"provider_address" yaml:"provider_address" env:"RELAY_PROVIDER_ADDRESS"`
	EscrowAccount   string        `mapstructure:"escrow_account"   yaml:"escrow_account"   env:"RELAY_ESCROW_ACCOUNT"`
	Cooldown        time.Duration `mapstructure:"cooldown"         yaml:"cooldown"         env:"RELAY_COOLDOWN"`
	AutoRespond     bool          `mapstructure:"auto_respond"     yaml:"auto_respond"     env:"RELAY_AUTO_RESPOND"`
	// ReplayWindow of zero keeps fingerprints forever.
	ReplayWindow   time.Duration `mapstructure:"replay_window"    yaml:"replay_window"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"   yaml:"prune_interval"`
	LimiterMaxKeys int           `mapstructure:"limiter_max_keys" yaml:"limiter_max_keys"`
}

// ChainConfig seeds one bridge endpoint
type ChainConfig struct {
	Name        string `mapstructure:"name"         yaml:"name"`
	Descriptor  string `mapstructure:"descriptor"   yaml:"descriptor"`
	TransportID uint16 `mapstructure:"transport_id" yaml:"transport_id"`
}

// TransportConfig selects the provider
type TransportConfig struct {
	Mode           string        `mapstructure:"mode"             yaml:"mode"             env:"TRANSPORT_MODE"`
	URL            string        `mapstructure:"url"              yaml:"url"              env:"TRANSPORT_URL"`
	Timeout        time.Duration `mapstructure:"timeout"          yaml:"timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size"`
	// Loopback only: pump interval and chains simulated in-process.
	PumpInterval time.Duration `mapstructure:"pump_interval" yaml:"pump_interval"`
	Peers        []string      `mapstructure:"peers"         yaml:"peers"`
}

const (
	TransportLoopback = "loopback"
	TransportHTTP     = "http"
)

// RedisConfig backs the limiter and replay guard when enabled
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"  yaml:"enabled"  env:"REDIS_ENABLED"`
	Addr     string `mapstructure:"addr"     yaml:"addr"     env:"REDIS_ADDR"`
	Password string `mapstructure:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"db"       yaml:"db"`
	Prefix   string `mapstructure:"prefix"   yaml:"prefix"`
}

// ArchiveConfig persists events to Postgres
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"      env:"ARCHIVE_ENABLED"`
	DSN         string `mapstructure:"dsn"          yaml:"dsn"          env:"ARCHIVE_DSN"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// AccessConfig seeds role holders
type AccessConfig struct {
	Admins  []string `mapstructure:"admins"  yaml:"admins"`
	Oracles []string `mapstructure:"oracles" yaml:"oracles"`
}

type TokenConfig struct {
	Category string `mapstructure:"category" yaml:"category"`
	Address  string `mapstructure:"address"  yaml:"address"`
}

// IdentityConfig seeds the in-memory identity registry
type IdentityConfig struct {
	Owner          string            `mapstructure:"owner"           yaml:"owner"`
	DID            string            `mapstructure:"did"             yaml:"did"`
	CredentialHash string            `mapstructure:"credential_hash" yaml:"credential_hash"`
	Verified       bool              `mapstructure:"verified"        yaml:"verified"`
	ChainAddresses map[string]string `mapstructure:"chain_addresses" yaml:"chain_addresses"`
}

type EventsConfig struct {
	Capacity      int           `mapstructure:"capacity"       yaml:"capacity"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout" yaml:"notify_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"         yaml:"enabled"         env:"METRICS_ENABLED"`
	Path           string        `mapstructure:"path"            yaml:"path"            env:"METRICS_PATH"`
	ReportInterval time.Duration `mapstructure:"report_interval" yaml:"report_interval"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("relay.cooldown", d.Relay.Cooldown)
	v.SetDefault("relay.auto_respond", d.Relay.AutoRespond)
	v.SetDefault("relay.replay_window", d.Relay.ReplayWindow)
	v.SetDefault("relay.prune_interval", d.Relay.PruneInterval)
	v.SetDefault("relay.limiter_max_keys", d.Relay.LimiterMaxKeys)

	v.SetDefault("transport.mode", d.Transport.Mode)
	v.SetDefault("transport.timeout", d.Transport.Timeout)
	v.SetDefault("transport.max_message_size", d.Transport.MaxMessageSize)
	v.SetDefault("transport.pump_interval", d.Transport.PumpInterval)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.auto_migrate", true)

	v.SetDefault("api.listen_addr", d.API.ListenAddr)
	v.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.max_header_bytes", d.API.MaxHeaderBytes)
	v.SetDefault("api.max_body_bytes", d.API.MaxBodyBytes)
	v.SetDefault("api.shutdown_timeout", d.API.ShutdownTimeout)
	v.SetDefault("api.signature_skew", d.API.SignatureSkew)
	v.SetDefault("api.rate_limit_per_second", d.API.RateLimitPerSecond)
	v.SetDefault("api.rate_limit_burst", d.API.RateLimitBurst)
	v.SetDefault("api.enable_cors", false)

	v.SetDefault("events.capacity", d.Events.Capacity)
	v.SetDefault("events.notify_timeout", d.Events.NotifyTimeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.report_interval", d.Metrics.ReportInterval)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateChains(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateSeeds(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRelay() error {
	if strings.TrimSpace(c.Relay.LocalChain) == "" {
		return fmt.Errorf("relay.local_chain is required")
	}
	if !common.IsHexAddress(c.Relay.ProviderAddress) ||
		common.HexToAddress(c.Relay.ProviderAddress) == (common.Address{}) {
		return fmt.Errorf("relay.provider_address must be a non-zero address, got %q", c.Relay.ProviderAddress)
	}
	if c.Relay.EscrowAccount != "" && !common.IsHexAddress(c.Relay.EscrowAccount) {
		return fmt.Errorf("relay.escrow_account is not an address: %q", c.Relay.EscrowAccount)
	}
	if c.Relay.Cooldown < 0 {
		return fmt.Errorf("relay.cooldown must not be negative")
	}
	if c.Relay.ReplayWindow < 0 {
		return fmt.Errorf("relay.replay_window must not be negative")
	}
	if c.API.SignatureSkew < 0 {
		return fmt.Errorf("api.signature_skew must not be negative")
	}
	return nil
}

func (c *Config) validateChains() error {
	names := make(map[string]struct{}, len(c.Chains))
	ids := make(map[uint16]string, len(c.Chains))
	if c.Relay.TransportID != 0 {
		ids[c.Relay.TransportID] = c.Relay.LocalChain
	}
	for i, ch := range c.Chains {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return fmt.Errorf("chains[%d].name is required", i)
		}
		if name == c.Relay.LocalChain {
			return fmt.Errorf("chains[%d] repeats the local chain %q", i, name)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("chains[%d] duplicates %q", i, name)
		}
		names[name] = struct{}{}
		if ch.TransportID == 0 {
			continue
		}
		if other, dup := ids[ch.TransportID]; dup {
			return fmt.Errorf("chains[%s].transport_id %d already used by %s", name, ch.TransportID, other)
		}
		ids[ch.TransportID] = name
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Mode {
	case TransportLoopback:
		if c.Relay.TransportID == 0 {
			return fmt.Errorf("relay.transport_id is required for loopback transport")
		}
		for _, peer := range c.Transport.Peers {
			if c.chain(peer) == nil {
				return fmt.Errorf("transport.peers: %q is not a configured chain", peer)
			}
		}
	case TransportHTTP:
		if strings.TrimSpace(c.Transport.URL) == "" {
			return fmt.Errorf("transport.url is required for http transport")
		}
		if len(c.Transport.Peers) > 0 {
			return fmt.Errorf("transport.peers is only supported by loopback transport")
		}
	default:
		return fmt.Errorf("transport.mode must be %q or %q, got %q", TransportLoopback, TransportHTTP, c.Transport.Mode)
	}
	if c.Transport.MaxMessageSize < 0 {
		return fmt.Errorf("transport.max_message_size must not be negative")
	}
	return nil
}

func (c *Config) validateStores() error {
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.DSN) == "" {
		return fmt.Errorf("archive.dsn is required when archive is enabled")
	}
	return nil
}

func (c *Config) validateSeeds() error {
	for _, a := range append(append([]string(nil), c.Access.Admins...), c.Access.Oracles...) {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("access: %q is not an address", a)
		}
	}
	for _, t := range c.Tokens {
		if strings.TrimSpace(t.Category) == "" || !common.IsHexAddress(t.Address) {
			return fmt.Errorf("tokens: invalid entry %s=%q", t.Category, t.Address)
		}
	}
	for _, id := range c.Identities {
		if !common.IsHexAddress(id.Owner) {
			return fmt.Errorf("identities[%s].owner is not an address", id.DID)
		}
		if strings.TrimSpace(id.DID) == "" {
			return fmt.Errorf("identities: did is required")
		}
	}
	return nil
}

func (c *Config) chain(name string) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].Name == name {
			return &c.Chains[i]
		}
	}
	return nil
}

// Peer returns the configured chain simulated in-process, if any.
func (c *Config) Peer(name string) (ChainConfig, bool) {
	for _, p := range c.Transport.Peers {
		if p == name {
			if ch := c.chain(name); ch != nil {
				return *ch, true
			}
		}
	}
	return ChainConfig{}, false
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			LocalChain:     "local",
			TransportID:    1,
			Cooldown:       60 * time.Second,
			AutoRespond:    true,
			PruneInterval:  time.Hour,
			LimiterMaxKeys: 100_000,
		},
		Transport: TransportConfig{
			Mode:           TransportLoopback,
			Timeout:        10 * time.Second,
			MaxMessageSize: 1 << 20,
			PumpInterval:   250 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "relay",
		},
		Archive: ArchiveConfig{
			AutoMigrate: true,
		},
		API: apisrv.DefaultConfig(),
		Events: EventsConfig{
			Capacity:      10_000,
			NotifyTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Path:           "/metrics",
			ReportInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}
