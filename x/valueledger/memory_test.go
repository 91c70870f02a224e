package valueledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gold   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func balance(t *testing.T, m *Memory, who common.Address) uint64 {
	t.Helper()
	b, err := m.BalanceOf(gold, who)
	require.NoError(t, err)
	return b.Uint64()
}

func TestMemory_MintTransferBurn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.RegisterToken("gold", gold))
	require.NoError(t, m.RegisterToken("gold", gold))
	require.ErrorIs(t, m.RegisterToken("silver", gold), ErrTokenRegistered)

	require.NoError(t, m.Mint(ctx, gold, alice, uint256.NewInt(100)))
	require.NoError(t, m.TransferFrom(ctx, gold, alice, escrow, uint256.NewInt(50)))
	assert.Equal(t, uint64(50), balance(t, m, alice))
	assert.Equal(t, uint64(50), balance(t, m, escrow))

	require.NoError(t, m.Burn(ctx, gold, escrow, uint256.NewInt(50)))
	supply, err := m.TotalSupply(gold)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), supply.Uint64())
	assert.Equal(t, uint64(0), balance(t, m, escrow))
}

func TestMemory_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.RegisterToken("gold", gold))
	require.NoError(t, m.Mint(ctx, gold, alice, uint256.NewInt(10)))

	err := m.TransferFrom(ctx, gold, alice, escrow, uint256.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(10), balance(t, m, alice))
	assert.Equal(t, uint64(0), balance(t, m, escrow))

	require.ErrorIs(t, m.Burn(ctx, gold, escrow, uint256.NewInt(1)), ErrInsufficientBalance)
}

func TestMemory_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	require.ErrorIs(t, m.Mint(ctx, gold, alice, uint256.NewInt(1)), ErrUnknownToken)
	_, err := m.BalanceOf(gold, alice)
	require.ErrorIs(t, err, ErrUnknownToken)

	require.NoError(t, m.RegisterToken("gold", gold))
	require.ErrorIs(t, m.Mint(ctx, gold, alice, uint256.NewInt(0)), ErrZeroAmount)
	require.ErrorIs(t, m.Mint(ctx, gold, alice, nil), ErrZeroAmount)

	ceiling := new(uint256.Int).SetAllOne()
	require.NoError(t, m.Mint(ctx, gold, alice, ceiling))
	require.ErrorIs(t, m.Mint(ctx, gold, alice, uint256.NewInt(1)), ErrOverflow)
}

func TestMemory_UnregisterToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.RegisterToken("gold", gold))
	require.NoError(t, m.UnregisterToken(gold))
	assert.False(t, m.IsRegistered(gold))

	require.NoError(t, m.RegisterToken("gold", gold))
	require.NoError(t, m.Mint(ctx, gold, alice, uint256.NewInt(1)))
	require.Error(t, m.UnregisterToken(gold))
	assert.Len(t, m.Tokens(), 1)
}
