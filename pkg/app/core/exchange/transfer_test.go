package exchange

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// stallingChain accepts every transaction but only hands out receipts once
// mined is set.
type stallingChain struct {
	mu     sync.Mutex
	sent   int
	mined  bool
	status uint64
}

func (c *stallingChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.sent), nil
}

func (c *stallingChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *stallingChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (c *stallingChain) SendTransaction(context.Context, *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return nil
}

func (c *stallingChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mined {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: c.status}, nil
}

func (c *stallingChain) mine(status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mined, c.status = true, status
}

func (c *stallingChain) stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mined = false
}

func (c *stallingChain) broadcast() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// goldMarket registers GOLD as an ERC20 on chain and deposits 10 of it for
// traders[0] while receipts still arrive.
func goldMarket(t *testing.T) (*harness, *stallingChain) {
	t.Helper()
	h := newHarness(t)
	chain := &stallingChain{}
	chain.mine(types.ReceiptStatusSuccessful)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	gold := asset.NewERC20(chain, common.HexToAddress("0x6010000000000000000000000000000000000006"), key, big.NewInt(31337)).
		WithConfirmTimeout(20 * time.Millisecond)
	h.chain[gold.Describe().Ref] = gold
	if err := h.engine.RegisterTicker(tk("GOLD"), gold); err != nil {
		t.Fatal(err)
	}
	h.deposit(traders[0], "GOLD", ether(10))
	return h, chain
}

func goldReasons(h *harness) []string {
	var out []string
	for _, ev := range h.rec.OfKind(events.KindBalance) {
		if ev.Balance.Ticker == "GOLD" {
			out = append(out, ev.Balance.Reason)
		}
	}
	return out
}

func TestWithdrawUnconfirmedKeepsDebit(t *testing.T) {
	h, chain := goldMarket(t)
	chain.stall()
	sent := chain.broadcast()

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	err := h.engine.Withdraw(ctx, traders[0], tk("GOLD"), ether(10))
	if !errors.Is(err, dexerr.ErrTransferPending) {
		t.Fatalf("withdraw err = %v, want ErrTransferPending", err)
	}
	if errors.Is(err, dexerr.ErrTransferFailed) {
		t.Error("pending withdraw reported as failed")
	}
	if got := chain.broadcast(); got != sent+1 {
		t.Fatalf("broadcast %d txs, want %d", got, sent+1)
	}
	// The transfer is out; crediting back now would pay the trader twice.
	h.assertTotal(traders[0], "GOLD", zero)

	chain.mine(types.ReceiptStatusSuccessful)
	h.engine.pending.Wait()
	h.assertTotal(traders[0], "GOLD", zero)

	h.reopen()
	h.assertTotal(traders[0], "GOLD", zero)
}

func TestWithdrawRevertedLaterIsCreditedBack(t *testing.T) {
	h, chain := goldMarket(t)
	chain.stall()
	h.rec.Reset()

	err := h.engine.Withdraw(bg, traders[0], tk("GOLD"), ether(4))
	if !errors.Is(err, dexerr.ErrTransferPending) {
		t.Fatalf("withdraw err = %v", err)
	}
	h.assertTotal(traders[0], "GOLD", ether(6))

	chain.mine(types.ReceiptStatusFailed)
	h.engine.pending.Wait()
	h.assertTotal(traders[0], "GOLD", ether(10))

	reasons := goldReasons(h)
	if len(reasons) != 2 || reasons[0] != events.ReasonWithdraw || reasons[1] != events.ReasonWithdrawReverted {
		t.Errorf("GOLD balance reasons = %v", reasons)
	}
}

func TestDepositUnconfirmedCreditsOnConfirmation(t *testing.T) {
	h, chain := goldMarket(t)
	chain.stall()
	h.rec.Reset()

	err := h.engine.Deposit(bg, traders[0], tk("GOLD"), ether(5))
	if !errors.Is(err, dexerr.ErrTransferPending) {
		t.Fatalf("deposit err = %v", err)
	}
	h.assertTotal(traders[0], "GOLD", ether(10))
	if len(goldReasons(h)) != 0 {
		t.Error("pending deposit emitted a balance change")
	}

	chain.mine(types.ReceiptStatusSuccessful)
	h.engine.pending.Wait()
	h.assertTotal(traders[0], "GOLD", ether(15))
	if reasons := goldReasons(h); len(reasons) != 1 || reasons[0] != events.ReasonDeposit {
		t.Errorf("GOLD balance reasons = %v", reasons)
	}
}

func TestDepositRevertedLaterCreditsNothing(t *testing.T) {
	h, chain := goldMarket(t)
	chain.stall()

	if err := h.engine.Deposit(bg, traders[0], tk("GOLD"), ether(5)); !errors.Is(err, dexerr.ErrTransferPending) {
		t.Fatalf("deposit err = %v", err)
	}
	chain.mine(types.ReceiptStatusFailed)
	h.engine.pending.Wait()
	h.assertTotal(traders[0], "GOLD", ether(10))
}

func TestWithdrawSurvivesCancelledRequest(t *testing.T) {
	h, _ := goldMarket(t)

	// The client went away after broadcast; the receipt is still awaited.
	ctx, cancel := context.WithCancel(bg)
	cancel()
	if err := h.engine.Withdraw(ctx, traders[0], tk("GOLD"), ether(3)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	h.assertTotal(traders[0], "GOLD", ether(7))
}

func TestCloseAbandonsUnresolvedTransfers(t *testing.T) {
	h, chain := goldMarket(t)
	chain.stall()

	if err := h.engine.Withdraw(bg, traders[0], tk("GOLD"), ether(1)); !errors.Is(err, dexerr.ErrTransferPending) {
		t.Fatalf("withdraw err = %v", err)
	}
	ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.engine.Close(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after its context ended")
	}
	h.assertTotal(traders[0], "GOLD", ether(9))
}
