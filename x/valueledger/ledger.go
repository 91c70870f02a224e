package valueledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken        = errors.New("unknown value token")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("amount overflows uint256")
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrTokenRegistered     = errors.New("token already registered")
)

// Ledger is the fungible value ledger used for escrow, burn, refund and mint.
type Ledger interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	Mint(ctx context.Context, token, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, token, from common.Address, amount *uint256.Int) error
	// Transfer moves amount out of the holder account, typically the escrow.
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	BalanceOf(token, account common.Address) (*uint256.Int, error)
}

// Token describes a registered commodity token.
type Token struct {
	Address  common.Address `json:"address"`
	Category string         `json:"category"`
}

// Registry tracks which tokens may be bridged.
type Registry interface {
	RegisterToken(category string, token common.Address) error
	UnregisterToken(token common.Address) error
	IsRegistered(token common.Address) bool
	Tokens() []Token
}

// Store is a ledger that also owns its token registry.
type Store interface {
	Ledger
	Registry
}
