package valueledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var _ Store = (*Memory)(nil)

type book struct {
	category string
	supply   uint256.Int
	balances map[common.Address]*uint256.Int
}

// Memory is a multi-token mint/burn ledger.
type Memory struct {
	mu    sync.RWMutex
	books map[common.Address]*book
}

func NewMemory() *Memory {
	return &Memory{books: make(map[common.Address]*book)}
}

// RegisterToken adds a token under a category such as "gold" or "carbon".
func (m *Memory) RegisterToken(category string, token common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.books[token]; ok {
		if b.category == category {
			return nil
		}
		return fmt.Errorf("%w: %s as %q", ErrTokenRegistered, token.Hex(), b.category)
	}
	m.books[token] = &book{category: category, balances: make(map[common.Address]*uint256.Int)}
	return nil
}

// UnregisterToken removes a token with no supply. It undoes RegisterToken.
func (m *Memory) UnregisterToken(token common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if !b.supply.IsZero() {
		return fmt.Errorf("token %s has outstanding supply", token.Hex())
	}
	delete(m.books, token)
	return nil
}

func (m *Memory) IsRegistered(token common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.books[token]
	return ok
}

func (m *Memory) Tokens() []Token {
	m.mu.RLock()
	out := make([]Token, 0, len(m.books))
	for addr, b := range m.books {
		out = append(out, Token{Address: addr, Category: b.category})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

func (m *Memory) Mint(_ context.Context, token, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bookLocked(token, amount)
	if err != nil {
		return err
	}
	supply, overflow := new(uint256.Int).AddOverflow(&b.supply, amount)
	if overflow {
		return ErrOverflow
	}
	b.supply = *supply
	b.credit(to, amount)
	return nil
}

func (m *Memory) Burn(_ context.Context, token, from common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bookLocked(token, amount)
	if err != nil {
		return err
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.supply.Sub(&b.supply, amount)
	return nil
}

func (m *Memory) TransferFrom(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	return m.Transfer(ctx, token, from, to, amount)
}

func (m *Memory) Transfer(_ context.Context, token, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bookLocked(token, amount)
	if err != nil {
		return err
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.credit(to, amount)
	return nil
}

func (m *Memory) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if bal, ok := b.balances[account]; ok {
		return bal.Clone(), nil
	}
	return uint256.NewInt(0), nil
}

func (m *Memory) TotalSupply(token common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return b.supply.Clone(), nil
}

func (m *Memory) bookLocked(token common.Address, amount *uint256.Int) (*book, error) {
	b, ok := m.books[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	return b, nil
}

func (b *book) credit(to common.Address, amount *uint256.Int) {
	bal, ok := b.balances[to]
	if !ok {
		bal = new(uint256.Int)
		b.balances[to] = bal
	}
	// cannot overflow: every balance is bounded by supply
	bal.Add(bal, amount)
}

func (b *book) debit(from common.Address, amount *uint256.Int) error {
	bal, ok := b.balances[from]
	if !ok || bal.Lt(amount) {
		have := "0"
		if ok {
			have = bal.Dec()
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have, amount.Dec())
	}
	bal.Sub(bal, amount)
	return nil
}
