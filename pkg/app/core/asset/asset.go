// Package asset binds tickers to the external fungible assets the exchange
// holds in custody. The core only needs two moves: pull funds from a trader
// into custody on deposit, and push them back out on withdraw.
package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Kind identifies how a handle reaches its asset.
type Kind string

const (
	KindNative Kind = "native"
	KindMemory Kind = "memory"
	KindERC20  Kind = "erc20"
)

// Descriptor is the persisted identity of a handle: its kind plus a kind
// specific reference (token contract address for ERC20, symbol otherwise).
type Descriptor struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref"`
}

// Handle is the transfer-in/transfer-out surface of an external asset.
// Both calls are all-or-nothing: a returned error means nothing moved, unless
// it is a *PendingTransfer, whose outcome is only known once Wait returns.
type Handle interface {
	Pull(ctx context.Context, owner common.Address, amount *uint256.Int) error
	Push(ctx context.Context, recipient common.Address, amount *uint256.Int) error
	Describe() Descriptor
}

var (
	ErrInsufficientFunds   = errors.New("insufficient external balance")
	ErrNativePull          = errors.New("native asset cannot be pulled")
	ErrTransferUnconfirmed = errors.New("transfer broadcast but not confirmed")
	ErrTransferReverted    = errors.New("transfer reverted")
)

// PendingTransfer reports a transfer that was handed to the chain but whose
// receipt did not arrive in time. Funds may or may not have moved.
type PendingTransfer struct {
	Hash common.Hash
	Err  error
	wait func(ctx context.Context) error
}

func NewPendingTransfer(hash common.Hash, cause error, wait func(ctx context.Context) error) *PendingTransfer {
	return &PendingTransfer{Hash: hash, Err: cause, wait: wait}
}

func (p *PendingTransfer) Error() string {
	return fmt.Sprintf("%v: tx %s: %v", ErrTransferUnconfirmed, p.Hash.Hex(), p.Err)
}

func (p *PendingTransfer) Unwrap() []error { return []error{ErrTransferUnconfirmed, p.Err} }

// Wait blocks until the outcome is known. It returns nil when the transfer
// succeeded and an error wrapping ErrTransferReverted when nothing moved; any
// other error leaves the outcome undecided.
func (p *PendingTransfer) Wait(ctx context.Context) error {
	return p.wait(ctx)
}
