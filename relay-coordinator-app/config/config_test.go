package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
relay:
  local_chain: alpha
  transport_id: 1
  provider_address: "0x00000000000000000000000000000000000000ee"
chains:
  - name: beta
    descriptor: "0xbeta"
    transport_id: 2
transport:
  peers: [beta]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "alpha", cfg.Relay.LocalChain)
	assert.Equal(t, 60*time.Second, cfg.Relay.Cooldown)
	assert.True(t, cfg.Relay.AutoRespond)
	assert.Zero(t, cfg.Relay.ReplayWindow)
	assert.Equal(t, TransportLoopback, cfg.Transport.Mode)
	assert.Equal(t, ":8081", cfg.API.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.API.SignatureSkew)
	assert.Equal(t, 10_000, cfg.Events.Capacity)

	peer, ok := cfg.Peer("beta")
	require.True(t, ok)
	assert.Equal(t, uint16(2), peer.TransportID)
	_, ok = cfg.Peer("gamma")
	assert.False(t, ok)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Chains, 2)
	assert.Len(t, cfg.Identities, 1)
	assert.Equal(t, "0x00000000000000000000000000000000000000a2", cfg.Identities[0].ChainAddresses["beta"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Relay.LocalChain = "alpha"
		c.Relay.ProviderAddress = "0x00000000000000000000000000000000000000ee"
		c.Chains = []ChainConfig{{Name: "beta", Descriptor: "0xb", TransportID: 2}}
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"no local chain":      func(c *Config) { c.Relay.LocalChain = "" },
		"zero provider":       func(c *Config) { c.Relay.ProviderAddress = "0x0000000000000000000000000000000000000000" },
		"negative cooldown":   func(c *Config) { c.Relay.Cooldown = -time.Second },
		"negative skew":       func(c *Config) { c.API.SignatureSkew = -time.Second },
		"chain is local":      func(c *Config) { c.Chains[0].Name = "alpha" },
		"duplicate transport": func(c *Config) { c.Chains = append(c.Chains, ChainConfig{Name: "gamma", TransportID: 2}) },
		"local transport":     func(c *Config) { c.Chains[0].TransportID = 1 },
		"unknown mode":        func(c *Config) { c.Transport.Mode = "carrier-pigeon" },
		"http without url":    func(c *Config) { c.Transport.Mode = TransportHTTP },
		"unknown peer":        func(c *Config) { c.Transport.Peers = []string{"delta"} },
		"redis without addr":  func(c *Config) { c.Redis.Enabled, c.Redis.Addr = true, "" },
		"archive without dsn": func(c *Config) { c.Archive.Enabled = true },
		"bad admin":           func(c *Config) { c.Access.Admins = []string{"nope"} },
		"bad token":           func(c *Config) { c.Tokens = []TokenConfig{{Category: "gold", Address: "x"}} },
		"identity without did": func(c *Config) {
			c.Identities = []IdentityConfig{{Owner: "0x00000000000000000000000000000000000000a1"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
}
