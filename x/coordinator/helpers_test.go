package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/valueledger"
)

var (
	epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	oracle  = common.HexToAddress("0x000000000000000000000000000000000000000c")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	relayer = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	gold    = common.HexToAddress("0x000000000000000000000000000000000000601d")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type publishCall struct {
	nonce       uint64
	payload     []byte
	transportID uint16
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *fakeProvider) Publish(_ context.Context, nonce uint64, payload []byte, transportID uint16) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.calls = append(p.calls, publishCall{nonce: nonce, payload: payload, transportID: transportID})
	return uint64(len(p.calls)), nil
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakeProvider) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

// lastMessage decodes the most recent published envelope.
func (p *fakeProvider) lastMessage(t *testing.T) (envelope.Envelope, envelope.Message) {
	t.Helper()
	calls := p.published()
	require.NotEmpty(t, calls)
	env, err := envelope.Unmarshal(calls[len(calls)-1].payload)
	require.NoError(t, err)
	msg, err := envelope.Open(env)
	require.NoError(t, err)
	return env, msg
}

type fixture struct {
	c        *Coordinator
	clock    *testClock
	provider *fakeProvider
	trail    *events.Trail
	registry *chains.Registry
	identity *identity.Memory
	value    *valueledger.Memory
	access   *access.Memory
}

// newFixture builds a coordinator on chain "alpha" with "beta" (transport 2)
// registered, an admin, an oracle and a registered gold token.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &testClock{now: epoch},
		provider: &fakeProvider{},
		trail:    events.NewTrail(zerolog.Nop()),
		registry: chains.NewRegistry(),
		identity: identity.NewMemory(),
		value:    valueledger.NewMemory(),
		access:   access.NewMemory(),
	}
	require.NoError(t, f.registry.SetEndpoint("beta", "0xbeta", 2))
	f.access.GrantRole(access.AdminRole, admin)
	f.access.GrantRole(access.OracleRole, oracle)
	require.NoError(t, f.value.RegisterToken("gold", gold))

	base := []Option{
		WithRegistry(f.registry),
		WithProvider(f.provider),
		WithProviderAddress(relayer),
		WithLocalChain("alpha"),
		WithIdentity(f.identity),
		WithValueLedger(f.value),
		WithAccess(f.access),
		WithTrail(f.trail),
		WithClock(f.clock.Now),
	}
	c, err := New(zerolog.Nop(), append(base, opts...)...)
	require.NoError(t, err)
	f.c = c
	return f
}

func (f *fixture) registerDID(t *testing.T, owner common.Address, did string) uint64 {
	t.Helper()
	id, err := f.identity.Register(owner, did, common.Hash{})
	require.NoError(t, err)
	return id
}

func (f *fixture) fund(t *testing.T, who common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.value.Mint(context.Background(), gold, who, uint256.NewInt(amount)))
}

func (f *fixture) balance(t *testing.T, who common.Address) uint64 {
	t.Helper()
	b, err := f.value.BalanceOf(gold, who)
	require.NoError(t, err)
	return b.Uint64()
}

func (f *fixture) events(kind events.Kind) []events.Event {
	return f.trail.List(kind, 1000)
}

// inbound builds a delivery as the remote chain "beta" would send it.
func inbound(t *testing.T, msg envelope.Message, nonce uint64, at time.Time) []byte {
	t.Helper()
	typ, body, err := envelope.Encode(msg)
	require.NoError(t, err)
	return envelope.New(typ, body, uint64(at.Unix()), nonce, []byte("beta")).Marshal()
}
