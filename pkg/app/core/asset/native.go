package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PayoutFunc sends native currency out of custody, e.g. through a chain client.
type PayoutFunc func(ctx context.Context, recipient common.Address, amount *uint256.Int) error

// NativeVault is the handle for the chain's native asset. Deposits never go
// through Pull: the value arrives with the transfer itself and the boundary
// layer reports it. Without a payout func the vault keeps wallets in memory.
type NativeVault struct {
	mu      sync.Mutex
	symbol  string
	custody common.Address
	payout  PayoutFunc
	w       wallets
}

func NewNativeVault(symbol string, custody common.Address, payout PayoutFunc) *NativeVault {
	return &NativeVault{symbol: symbol, custody: custody, payout: payout, w: newWallets()}
}

// Fund gives addr native currency outside the exchange (dev and tests).
func (v *NativeVault) Fund(addr common.Address, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.w.credit(addr, amount)
}

// Send moves native currency from a wallet into custody. The caller must then
// report the receipt to the exchange so the ledger is credited.
func (v *NativeVault) Send(_ context.Context, from common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.w.move(from, v.custody, amount)
}

func (v *NativeVault) BalanceOf(addr common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.w.balanceOf(addr)
}

func (v *NativeVault) Pull(context.Context, common.Address, *uint256.Int) error {
	return ErrNativePull
}

func (v *NativeVault) Push(ctx context.Context, recipient common.Address, amount *uint256.Int) error {
	if v.payout != nil {
		return v.payout(ctx, recipient, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.w.move(v.custody, recipient, amount)
}

func (v *NativeVault) Describe() Descriptor {
	return Descriptor{Kind: KindNative, Ref: v.symbol}
}
