package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// wallets is the balance sheet shared by the in-process handles.
// Callers hold the owning handle's mutex.
type wallets struct {
	balances map[common.Address]*uint256.Int
}

func newWallets() wallets {
	return wallets{balances: make(map[common.Address]*uint256.Int)}
}

func (w wallets) balanceOf(addr common.Address) *uint256.Int {
	if b, ok := w.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (w wallets) credit(addr common.Address, amount *uint256.Int) {
	b, ok := w.balances[addr]
	if !ok {
		b = new(uint256.Int)
		w.balances[addr] = b
	}
	b.Add(b, amount)
}

func (w wallets) move(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	have := w.balanceOf(from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), have.Dec(), amount.Dec())
	}
	w.balances[from].Sub(w.balances[from], amount)
	w.credit(to, amount)
	return nil
}

func (w wallets) total() *uint256.Int {
	sum := new(uint256.Int)
	for _, b := range w.balances {
		sum.Add(sum, b)
	}
	return sum
}
