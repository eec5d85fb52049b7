package asset

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	custody = common.HexToAddress("0xDE00000000000000000000000000000000000000")
)

func TestMemoryTokenPullPush(t *testing.T) {
	tok := NewMemoryToken("BLUE", custody)
	tok.Mint(alice, uint256.NewInt(100))

	if err := tok.Pull(context.Background(), alice, uint256.NewInt(60)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 40 {
		t.Errorf("alice = %d, want 40", got)
	}
	if got := tok.Custody().Uint64(); got != 60 {
		t.Errorf("custody = %d, want 60", got)
	}

	if err := tok.Pull(context.Background(), alice, uint256.NewInt(41)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw pull: got %v, want ErrInsufficientFunds", err)
	}

	if err := tok.Push(context.Background(), alice, uint256.NewInt(60)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 100 {
		t.Errorf("alice after push = %d, want 100", got)
	}
	if got := tok.TotalSupply().Uint64(); got != 100 {
		t.Errorf("supply = %d, want 100", got)
	}
}

func TestMemoryTokenFailTransfers(t *testing.T) {
	tok := NewMemoryToken("BLUE", custody)
	tok.Mint(alice, uint256.NewInt(10))
	boom := errors.New("boom")
	tok.FailTransfers(boom)

	if err := tok.Pull(context.Background(), alice, uint256.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 10 {
		t.Errorf("failed pull moved funds: alice = %d", got)
	}

	tok.FailTransfers(nil)
	if err := tok.Pull(context.Background(), alice, uint256.NewInt(1)); err != nil {
		t.Fatalf("pull after reset: %v", err)
	}
}

func TestNativeVault(t *testing.T) {
	v := NewNativeVault("ETH", custody, nil)
	v.Fund(alice, uint256.NewInt(50))

	if err := v.Pull(context.Background(), alice, uint256.NewInt(1)); !errors.Is(err, ErrNativePull) {
		t.Errorf("pull: got %v, want ErrNativePull", err)
	}
	if err := v.Send(context.Background(), alice, uint256.NewInt(20)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := v.Push(context.Background(), alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := v.BalanceOf(alice).Uint64(); got != 35 {
		t.Errorf("alice = %d, want 35", got)
	}
	if got := v.BalanceOf(custody).Uint64(); got != 15 {
		t.Errorf("custody = %d, want 15", got)
	}
	if d := v.Describe(); d.Kind != KindNative || d.Ref != "ETH" {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestNativeVaultPayout(t *testing.T) {
	var paid *uint256.Int
	v := NewNativeVault("ETH", custody, func(_ context.Context, to common.Address, amount *uint256.Int) error {
		if to != alice {
			t.Errorf("payout to %s", to.Hex())
		}
		paid = amount.Clone()
		return nil
	})
	if err := v.Push(context.Background(), alice, uint256.NewInt(7)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if paid == nil || paid.Uint64() != 7 {
		t.Errorf("payout = %v, want 7", paid)
	}
}
