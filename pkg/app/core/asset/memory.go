package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MemoryToken is an in-process fungible token. Dev nodes bind tickers to it
// and tests use it to observe what the exchange holds versus what traders hold.
type MemoryToken struct {
	mu      sync.Mutex
	symbol  string
	custody common.Address
	w       wallets
	fail    error
}

func NewMemoryToken(symbol string, custody common.Address) *MemoryToken {
	return &MemoryToken{symbol: symbol, custody: custody, w: newWallets()}
}

// Mint credits amount to addr. The dev faucet calls it.
func (t *MemoryToken) Mint(addr common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.credit(addr, amount)
}

func (t *MemoryToken) BalanceOf(addr common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.balanceOf(addr)
}

// Custody returns the balance held by the exchange.
func (t *MemoryToken) Custody() *uint256.Int {
	return t.BalanceOf(t.custody)
}

// TotalSupply is constant between mints; transfers only move it around.
func (t *MemoryToken) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.total()
}

// FailTransfers makes every following Pull/Push return err until reset with nil.
func (t *MemoryToken) FailTransfers(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

func (t *MemoryToken) Pull(_ context.Context, owner common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	return t.w.move(owner, t.custody, amount)
}

func (t *MemoryToken) Push(_ context.Context, recipient common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	return t.w.move(t.custody, recipient, amount)
}

func (t *MemoryToken) Describe() Descriptor {
	return Descriptor{Kind: KindMemory, Ref: t.symbol}
}
