package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/identity-relay/relay-coordinator-app/config"
	"github.com/compose-network/identity-relay/x/ledger"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func loopbackConfig() *config.Config {
	cfg := config.Default()
	cfg.Relay.LocalChain = "alpha"
	cfg.Relay.ProviderAddress = "0x00000000000000000000000000000000000000ee"
	cfg.Chains = []config.ChainConfig{{Name: "beta", Descriptor: "0xb2", TransportID: 2}}
	cfg.Transport.Peers = []string{"beta"}
	cfg.Metrics.Enabled = false
	cfg.API.RateLimitPerSecond = 0
	cfg.Identities = []config.IdentityConfig{{
		Owner:          alice.Hex(),
		DID:            "did:relay:alice",
		Verified:       true,
		ChainAddresses: map[string]string{"beta": "0xa2"},
	}}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(app.runShutdownFns)
	return app
}

func TestApp_LoopbackPeerAnswersVerification(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, loopbackConfig())
	require.Contains(t, app.peers, "beta")

	id, err := app.coordinator.RequestVerification(ctx, alice, "did:relay:alice", "beta")
	require.NoError(t, err)

	delivered, err := app.network.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	rec, err := app.coordinator.Verification(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, rec.State)
	assert.True(t, rec.Payload.Verified)

	st := app.GetStats()
	assert.Equal(t, 0, st["loopback_pending"])
	assert.Positive(t, st["events"])
}

func TestApp_Ready(t *testing.T) {
	app := newTestApp(t, loopbackConfig())

	rec := httptest.NewRecorder()
	app.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.EqualValues(t, 1, body["chains"])

	cfg := config.Default()
	cfg.Relay.ProviderAddress = "0x00000000000000000000000000000000000000ee"
	cfg.Metrics.Enabled = false
	empty := newTestApp(t, cfg)
	rec = httptest.NewRecorder()
	empty.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApp_Stats(t *testing.T) {
	app := newTestApp(t, loopbackConfig())

	rec := httptest.NewRecorder()
	app.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "loopback", body["transport"])
	assert.Contains(t, body, "peers")
	coord := body["coordinator"].(map[string]interface{})
	assert.Equal(t, "alpha", coord["local_chain"])
}

func TestApp_SeedErrors(t *testing.T) {
	cfg := loopbackConfig()
	cfg.Identities = append(cfg.Identities, cfg.Identities[0])

	_, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did:relay:alice")
}

func TestApp_RoutesMounted(t *testing.T) {
	app := newTestApp(t, loopbackConfig())

	for _, path := range []string{"/health", "/v1/chains"} {
		rec := httptest.NewRecorder()
		app.apiServer.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
