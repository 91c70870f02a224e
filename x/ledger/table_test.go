package ledger

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func TestRequestTable_SequentialIDs(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[Verification](KindVerification)
	for i := 0; i < 5; i++ {
		rec := tbl.Insert("alpha", "beta", now, Verification{DID: "did:x:1"})
		assert.Equal(t, uint64(i), rec.ID)
		assert.Equal(t, StatePending, rec.State)
	}
	assert.Equal(t, 5, tbl.Len())
	assert.Equal(t, 5, tbl.Pending())

	_, err := tbl.Resolve(0, now, nil)
	require.NoError(t, err)

	// resolving an earlier record never frees its id
	rec := tbl.Insert("alpha", "beta", now, Verification{})
	assert.Equal(t, uint64(5), rec.ID)
	assert.Equal(t, 5, tbl.Pending())
}

func TestRequestTable_ResolveOnce(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[Verification](KindVerification)
	tbl.Insert("alpha", "beta", now, Verification{DID: "did:x:1"})

	rec, err := tbl.Resolve(0, now.Add(time.Minute), func(p *Verification) { p.Verified = true })
	require.NoError(t, err)
	assert.Equal(t, StateResolved, rec.State)
	assert.True(t, rec.Payload.Verified)
	assert.Equal(t, now.Add(time.Minute), rec.ResolvedAt)

	rec, err = tbl.Resolve(0, now.Add(2*time.Minute), func(p *Verification) { p.Verified = false })
	require.ErrorIs(t, err, ErrAlreadyResolved)
	assert.True(t, rec.Payload.Verified, "terminal payload is stable")

	got, err := tbl.Get(0)
	require.NoError(t, err)
	assert.True(t, got.Payload.Verified)
	assert.Equal(t, 0, tbl.Pending())
}

func TestRequestTable_UnknownID(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[Credential](KindCredentialVerification)
	_, err := tbl.Get(0)
	require.ErrorIs(t, err, ErrUnknownID)
	_, err = tbl.Resolve(3, now, nil)
	require.ErrorIs(t, err, ErrUnknownID)
}

func TestRequestTable_RollbackReleasesLastID(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[TokenTransfer](KindTokenTransfer)
	tbl.Insert("alpha", "beta", now, TokenTransfer{Amount: uint256.NewInt(1)})
	rec := tbl.Insert("alpha", "beta", now, TokenTransfer{Amount: uint256.NewInt(2)})

	require.ErrorIs(t, tbl.Rollback(0), ErrNotLast)
	require.NoError(t, tbl.Rollback(rec.ID))
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 1, tbl.Pending())

	again := tbl.Insert("alpha", "beta", now, TokenTransfer{Amount: uint256.NewInt(3)})
	assert.Equal(t, uint64(1), again.ID)
}

func TestRequestTable_Reopen(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[RoleSync](KindRoleSync)
	snap := tbl.Insert("alpha", "beta", now, RoleSync{Role: common.HexToHash("0x01"), IsGrant: true})

	require.ErrorIs(t, tbl.Reopen(snap), ErrNotResolved)

	_, err := tbl.Resolve(snap.ID, now, func(p *RoleSync) { p.Success = true })
	require.NoError(t, err)
	require.NoError(t, tbl.Reopen(snap))

	got, err := tbl.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.False(t, got.Payload.Success)
	assert.Equal(t, 1, tbl.Pending())
}

func TestRequestTable_List(t *testing.T) {
	t.Parallel()

	tbl := NewRequestTable[Verification](KindVerification)
	for i := 0; i < 4; i++ {
		tbl.Insert("a", "b", now, Verification{})
	}

	assert.Len(t, tbl.List(0, 0), 4)
	page := tbl.List(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].ID)
	assert.Empty(t, tbl.List(10, 2))
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseKind("token-transfer")
	require.True(t, ok)
	assert.Equal(t, KindTokenTransfer, k)

	_, ok = ParseKind("expiry")
	assert.False(t, ok)
}
