package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/ledger"
	"github.com/compose-network/identity-relay/x/replay"
	"github.com/compose-network/identity-relay/x/transport"
)

func TestOnMessage_RoleSyncAppliedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role := access.RoleID("AUDITOR_ROLE")
	payload := inbound(t, envelope.RoleSynchronization{RequestID: 4, Role: role, Account: bob, IsGrant: true}, 1, epoch)

	out, err := f.c.OnMessage(ctx, relayer, 2, []byte{0xbe}, 10, payload)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, "beta", out.SourceChain)
	assert.True(t, f.access.HasRole(role, bob))

	out, err = f.c.OnMessage(ctx, relayer, 2, []byte{0xbe}, 11, payload)
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.True(t, f.access.HasRole(role, bob))

	completed := f.events(events.KindRequestCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "role-sync", completed[0].Request)
	assert.Equal(t, "true", completed[0].Attributes["grant"])

	replayed := f.events(events.KindMessageReplayed)
	require.Len(t, replayed, 1)
	assert.Equal(t, out.Fingerprint, replayed[0].Fingerprint)
}

func TestOnMessage_OutsideWindowReportedAsExpired(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: epoch}
	f := newFixture(t, WithGuard(replay.NewMemory(time.Hour, clock.Now)))
	role := access.RoleID("AUDITOR_ROLE")
	payload := inbound(t, envelope.RoleSynchronization{RequestID: 7, Role: role, Account: bob, IsGrant: true}, 1, epoch.Add(-3*time.Hour))

	out, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.NoError(t, err)
	assert.True(t, out.Expired)
	assert.False(t, out.Replayed)
	assert.False(t, f.access.HasRole(role, bob))

	assert.Empty(t, f.events(events.KindMessageReplayed))
	expired := f.events(events.KindMessageExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "beta", expired[0].Chain)
	assert.Equal(t, out.Fingerprint, expired[0].Fingerprint)
}

func TestOnMessage_RoleRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.access.GrantRole(access.OracleRole, bob)

	payload := inbound(t, envelope.RoleSynchronization{Role: access.OracleRole, Account: bob}, 1, epoch)
	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.NoError(t, err)
	assert.False(t, f.access.HasRole(access.OracleRole, bob))
}

func TestOnMessage_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	payload := inbound(t, envelope.Custom{Data: []byte("x")}, 1, epoch)

	_, err := f.c.OnMessage(ctx, alice, 2, nil, 1, payload)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.c.OnMessage(ctx, relayer, 9, nil, 1, payload)
	require.ErrorIs(t, err, ErrUnsupportedChain)

	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 1, []byte{0x0a})
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, f.events(events.KindMessageReceived))

	// none of the rejected calls marked the fingerprint
	out, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Len(t, f.events(events.KindMessageReceived), 1)
}

func TestOnMessage_VerificationResponseResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.registry.SetEndpoint("gamma", "0xgamma", 3))
	f.registerDID(t, alice, "did:x:1")

	id, err := f.c.RequestVerification(ctx, alice, "did:x:1", "beta")
	require.NoError(t, err)

	// a response from a chain the request was not sent to is ignored
	wrong := inbound(t, envelope.VerificationResponse{RequestID: id, Verified: true}, 1, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 3, nil, 1, wrong)
	require.NoError(t, err)
	rec, err := f.c.Verification(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, rec.State)

	resp := inbound(t, envelope.VerificationResponse{RequestID: id, Verified: true}, 2, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 2, resp)
	require.NoError(t, err)
	rec, err = f.c.Verification(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, rec.State)
	assert.True(t, rec.Payload.Verified)

	// a later, different response cannot change a resolved record
	late := inbound(t, envelope.VerificationResponse{RequestID: id, Verified: false}, 3, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 3, late)
	require.NoError(t, err)
	rec, err = f.c.Verification(id)
	require.NoError(t, err)
	assert.True(t, rec.Payload.Verified)

	// unknown ids are a no-op
	unknown := inbound(t, envelope.VerificationResponse{RequestID: 99, Verified: true}, 4, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 4, unknown)
	require.NoError(t, err)

	completed := f.events(events.KindRequestCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "inbound", completed[0].Attributes["via"])
}

func TestOnMessage_CredentialStatusMustMatchHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hash := common.HexToHash("0xc1")

	id, err := f.c.RequestCredentialVerification(ctx, alice, hash, "beta")
	require.NoError(t, err)

	other := inbound(t, envelope.CredentialStatusUpdate{RequestID: id, CredentialHash: common.HexToHash("0xc2"), Valid: true}, 1, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 1, other)
	require.NoError(t, err)
	rec, err := f.c.CredentialVerification(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, rec.State)

	match := inbound(t, envelope.CredentialStatusUpdate{RequestID: id, CredentialHash: hash, Valid: true}, 2, epoch)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 2, match)
	require.NoError(t, err)
	rec, err = f.c.CredentialVerification(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateResolved, rec.State)
	assert.True(t, rec.Payload.Verified)
}

func TestOnMessage_TokenTransferMintsToRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := envelope.TokenTransfer{TransferID: 3, Token: gold, Amount: uint256.NewInt(25), Sender: alice, Recipient: bob}

	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, inbound(t, msg, 1, epoch))
	require.NoError(t, err)
	assert.Equal(t, uint64(25), f.balance(t, bob))
	assert.Equal(t, uint64(0), f.balance(t, relayer))

	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 2, inbound(t, msg, 1, epoch))
	require.NoError(t, err)
	assert.Equal(t, uint64(25), f.balance(t, bob))
}

func TestOnMessage_FailedMintCanBeRedelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	silver := common.HexToAddress("0x0000000000000000000000000000000000005117")
	payload := inbound(t, envelope.TokenTransfer{TransferID: 0, Token: silver, Amount: uint256.NewInt(5), Sender: alice, Recipient: bob}, 1, epoch)

	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.events(events.KindRequestCompleted))

	require.NoError(t, f.c.RegisterValueToken(ctx, admin, "silver", silver))
	out, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.NoError(t, err)
	assert.False(t, out.Replayed)

	b, err := f.value.BalanceOf(silver, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Uint64())
}

func TestOnMessage_AutoRespond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithAutoRespond(true))
	tokenID := f.registerDID(t, alice, "did:x:1")
	require.NoError(t, f.identity.SetVerified(tokenID, true))
	hash := common.HexToHash("0xc1")
	require.NoError(t, f.identity.StoreCredential(alice, hash, epoch))

	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, inbound(t, envelope.VerificationRequest{RequestID: 8, DID: "did:x:1"}, 1, epoch))
	require.NoError(t, err)
	_, msg := f.provider.lastMessage(t)
	assert.Equal(t, envelope.VerificationResponse{RequestID: 8, Verified: true}, msg)
	assert.Equal(t, uint16(2), f.provider.published()[0].transportID)

	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 2, inbound(t, envelope.VerificationRequest{RequestID: 9, DID: "did:nobody"}, 2, epoch))
	require.NoError(t, err)
	_, msg = f.provider.lastMessage(t)
	assert.Equal(t, envelope.VerificationResponse{RequestID: 9, Verified: false}, msg)

	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 3, inbound(t, envelope.CredentialVerification{RequestID: 1, CredentialHash: hash}, 3, epoch))
	require.NoError(t, err)
	_, msg = f.provider.lastMessage(t)
	assert.Equal(t, envelope.CredentialStatusUpdate{RequestID: 1, CredentialHash: hash, Valid: true}, msg)

	// unknown credentials get no answer
	before := len(f.provider.published())
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 4, inbound(t, envelope.CredentialVerification{RequestID: 2, CredentialHash: common.HexToHash("0xdead")}, 4, epoch))
	require.NoError(t, err)
	assert.Len(t, f.provider.published(), before)
	assert.Equal(t, uint64(3), f.c.Nonce())
}

func TestOnMessage_FailedReplyRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithAutoRespond(true))
	f.provider.fail(assert.AnError)
	payload := inbound(t, envelope.VerificationRequest{RequestID: 1, DID: "did:x:1"}, 1, epoch)

	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.ErrorIs(t, err, ErrDispatch)
	assert.Empty(t, f.events(events.KindMessageReceived))

	f.provider.fail(nil)
	out, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, payload)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Len(t, f.events(events.KindMessageReceived), 1)
}

func TestOnMessage_NotificationsAndUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerDID(t, alice, "did:x:1")

	_, err := f.c.OnMessage(ctx, relayer, 2, nil, 1, inbound(t, envelope.DIDResolution{RequestID: 1, DID: "did:x:1"}, 1, epoch))
	require.NoError(t, err)
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 2, inbound(t, envelope.Custom{Data: []byte("ping")}, 2, epoch))
	require.NoError(t, err)

	received := f.events(events.KindMessageReceived)
	require.Len(t, received, 2)
	assert.Equal(t, "true", received[0].Attributes["resolved"])
	assert.Equal(t, alice.Hex(), received[0].Attributes["owner"])
	assert.Equal(t, "4", received[1].Attributes["size"])

	unknown := envelope.New(envelope.Type(99), []byte("?"), uint64(epoch.Unix()), 3, []byte("beta"))
	out, err := f.c.OnMessage(ctx, relayer, 2, nil, 3, unknown.Marshal())
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Len(t, f.events(events.KindMessageReceived), 2)
}

func TestReceive_ImplementsTransportReceiver(t *testing.T) {
	f := newFixture(t)
	var r transport.Receiver = f.c

	err := r.Receive(context.Background(), transport.Delivery{
		Caller:            relayer,
		SourceTransportID: 2,
		Payload:           inbound(t, envelope.Custom{Data: []byte("x")}, 1, epoch),
	})
	require.NoError(t, err)
}
