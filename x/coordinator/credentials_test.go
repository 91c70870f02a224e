package coordinator

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
)

func TestRevokeCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithAutoRespond(true))
	hash := common.HexToHash("0xc0ffee")
	require.NoError(t, f.identity.StoreCredential(alice, hash, epoch))

	err := f.c.RevokeCredential(ctx, bob, hash)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = f.c.RevokeCredential(ctx, alice, common.HexToHash("0xdead"))
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.c.RevokeCredential(ctx, alice, hash))
	cred, err := f.identity.CredentialStatus(hash)
	require.NoError(t, err)
	assert.False(t, cred.Valid)
	assert.Equal(t, epoch, cred.RevokedAt)

	err = f.c.RevokeCredential(ctx, alice, hash)
	require.ErrorIs(t, err, ErrAlreadyResolved)

	revoked := f.events(events.KindCredentialRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, alice, revoked[0].Caller)
	assert.Equal(t, hash, revoked[0].Fingerprint)

	// a remote verification now learns the credential is invalid
	_, err = f.c.OnMessage(ctx, relayer, 2, nil, 1, inbound(t, envelope.CredentialVerification{RequestID: 5, CredentialHash: hash}, 1, epoch))
	require.NoError(t, err)
	_, msg := f.provider.lastMessage(t)
	assert.Equal(t, envelope.CredentialStatusUpdate{RequestID: 5, CredentialHash: hash, Valid: false}, msg)
}

// readOnlyIdentity hides the revocation method of the wrapped store.
type readOnlyIdentity struct {
	identity.Store
}

func TestRevokeCredential_StoreWithoutRevocation(t *testing.T) {
	f := newFixture(t)
	hash := common.HexToHash("0xc0ffee")
	require.NoError(t, f.identity.StoreCredential(alice, hash, epoch))

	c, err := New(zerolog.Nop(), WithRegistry(f.registry), WithProvider(f.provider), WithProviderAddress(relayer),
		WithLocalChain("alpha"), WithIdentity(readOnlyIdentity{f.identity}), WithAccess(f.access), WithClock(f.clock.Now))
	require.NoError(t, err)

	err = c.RevokeCredential(context.Background(), alice, hash)
	require.ErrorIs(t, err, ErrInvalidInput)
	cred, err := f.identity.CredentialStatus(hash)
	require.NoError(t, err)
	assert.True(t, cred.Valid)
}
