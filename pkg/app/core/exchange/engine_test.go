package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/util"
	"go.uber.org/zap"
)

var (
	bg            = context.Background()
	errUnresolved = errors.New("unresolved asset")
)

func TestAddTokens(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	got := h.engine.GetTickers()
	if len(got) != len(tokenNames) {
		t.Fatalf("GetTickers() returned %d tickers, want %d", len(got), len(tokenNames))
	}
	for i, name := range tokenNames {
		if got[i].String() != name {
			t.Errorf("GetTickers()[%d] = %s, want %s", i, got[i], name)
		}
	}

	if err := h.engine.RegisterTicker(tk("BLUE"), h.tokens["BLUE"]); !errors.Is(err, dexerr.ErrDuplicateTicker) {
		t.Errorf("duplicate register: got %v, want ErrDuplicateTicker", err)
	}
}

func TestApproveQuoteToken(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	for _, name := range []string{"ETH", "USDT"} {
		if err := h.engine.ApproveQuote(tk(name)); err != nil {
			t.Fatalf("approve %s: %v", name, err)
		}
		if !h.engine.Registry().IsApprovedQuote(tk(name)) {
			t.Errorf("%s not approved", name)
		}
	}

	before := h.engine.StateDigest()
	if err := h.engine.ApproveQuote(tk("GRAY")); !errors.Is(err, dexerr.ErrUnknownTicker) {
		t.Errorf("approve GRAY: got %v, want ErrUnknownTicker", err)
	}
	if h.engine.Registry().IsRegistered(tk("GRAY")) || h.engine.StateDigest() != before {
		t.Error("failed approve changed state")
	}
}

func TestDepositTokens(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	h.deposit(traders[0], "BLUE", ether(100))
	h.assertTotal(traders[0], "BLUE", ether(100))

	if got := h.tokens["BLUE"].BalanceOf(traders[0]); !got.Eq(ether(9900)) {
		t.Errorf("external balance = %s, want 9900 ether", got.Dec())
	}
	h.checkInvariants()

	evs := h.rec.OfKind(events.KindBalance)
	if len(evs) != 1 || evs[0].Balance.Reason != events.ReasonDeposit || evs[0].Balance.Total != ether(100).Dec() {
		t.Errorf("balance events = %+v", evs)
	}
}

func TestDepositNative(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	if err := h.native.Send(bg, traders[0], ether(100)); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.ReceiveNative(traders[0], ether(100)); err != nil {
		t.Fatalf("receive native: %v", err)
	}
	h.assertTotal(traders[0], "ETH", ether(100))

	err := h.engine.Deposit(bg, traders[0], tk("ETH"), ether(150))
	if !errors.Is(err, dexerr.ErrNativeDirectDeposit) {
		t.Errorf("deposit ETH: got %v, want ErrNativeDirectDeposit", err)
	}
	h.assertTotal(traders[0], "ETH", ether(100))

	if err := h.engine.ReceiveNative(traders[0], ether(0)); !errors.Is(err, dexerr.ErrInvalidAmount) {
		t.Errorf("receive zero: got %v", err)
	}
}

func TestDepositUnknownToken(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	err := h.engine.Deposit(bg, traders[0], tk("GRAY"), ether(100))
	if !errors.Is(err, dexerr.ErrUnknownTicker) {
		t.Errorf("got %v, want ErrUnknownTicker", err)
	}
	if err.Error() != "token not found in the dex: GRAY" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestDepositPullFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	// pulling more than the trader owns fails inside the token
	err := h.engine.Deposit(bg, traders[0], tk("BLUE"), ether(10001))
	if !errors.Is(err, dexerr.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	h.assertTotal(traders[0], "BLUE", ether(0))
	if len(h.rec.Events()) != 0 {
		t.Errorf("failed deposit emitted %d events", len(h.rec.Events()))
	}
	h.checkInvariants()
}

func TestWithdrawTokens(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	h.deposit(traders[0], "BLUE", ether(10000))
	if err := h.engine.Withdraw(bg, traders[0], tk("BLUE"), ether(10000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	h.assertTotal(traders[0], "BLUE", ether(0))
	if got := h.tokens["BLUE"].BalanceOf(traders[0]); !got.Eq(ether(10000)) {
		t.Errorf("external balance = %s, want 10000 ether", got.Dec())
	}
	h.checkInvariants()
}

func TestWithdrawNative(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()

	h.native.Send(bg, traders[0], ether(200))
	h.engine.ReceiveNative(traders[0], ether(200))

	if err := h.engine.Withdraw(bg, traders[0], tk("ETH"), ether(100)); err != nil {
		t.Fatalf("withdraw ETH: %v", err)
	}
	h.assertTotal(traders[0], "ETH", ether(100))
	if got := h.native.BalanceOf(traders[0]); !got.Eq(ether(49900)) {
		t.Errorf("wallet = %s, want 49900 ether", got.Dec())
	}
}

func TestWithdrawRejections(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()
	h.deposit(traders[0], "BLUE", ether(10000))
	before := h.engine.StateDigest()
	h.rec.Reset()

	if err := h.engine.Withdraw(bg, traders[0], tk("GRAY"), ether(100)); !errors.Is(err, dexerr.ErrUnknownTicker) {
		t.Errorf("unknown ticker: got %v", err)
	}

	err := h.engine.Withdraw(bg, traders[0], tk("BLUE"), ether(10001))
	var be *dexerr.BalanceError
	if !errors.As(err, &be) || be.Side != dexerr.SideWithdraw {
		t.Fatalf("overdraw: got %v, want withdraw BalanceError", err)
	}
	if err.Error() != "insufficient available balance: BLUE need 10001000000000000000000, have 10000000000000000000000" {
		t.Errorf("message = %q", err.Error())
	}

	if err := h.engine.Withdraw(bg, traders[0], tk("BLUE"), ether(0)); !errors.Is(err, dexerr.ErrInvalidAmount) {
		t.Errorf("zero withdraw: got %v", err)
	}

	if h.engine.StateDigest() != before || len(h.rec.Events()) != 0 {
		t.Error("rejected withdraw changed state or emitted events")
	}
}

func TestWithdrawPushFailureRestoresBalance(t *testing.T) {
	h := newHarness(t)
	h.addAllTokens()
	h.deposit(traders[0], "BLUE", ether(10))

	h.tokens["BLUE"].FailTransfers(errors.New("token paused"))
	err := h.engine.Withdraw(bg, traders[0], tk("BLUE"), ether(10))
	if !errors.Is(err, dexerr.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	h.assertTotal(traders[0], "BLUE", ether(10))

	h.tokens["BLUE"].FailTransfers(nil)
	h.checkInvariants()

	// the failed withdraw was never persisted
	h.reopen()
	h.assertTotal(traders[0], "BLUE", ether(10))
}

func TestUndrainedEventQueueDoesNotBlockEngine(t *testing.T) {
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// Run is never started, so nothing drains the queue.
	d := events.NewDispatcher(events.Multi{}, zap.NewNop().Sugar(), util.RealClock{}, 1)
	native := asset.NewNativeVault("ETH", custody, nil)
	e := New(token.NewRegistry(tk("ETH"), native), store, d, zap.NewNop().Sugar(), Options{PriceDecimals: DefaultPriceDecimals})
	if err := e.Recover(); err != nil {
		t.Fatal(err)
	}
	usdt := asset.NewMemoryToken("USDT", custody)
	usdt.Mint(traders[0], ether(10))
	if err := e.RegisterTicker(tk("USDT"), usdt); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := e.Deposit(bg, traders[0], tk("USDT"), ether(1)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	got := make(chan error, 1)
	go func() {
		_, err := e.GetBalance(traders[0], tk("USDT"))
		got <- err
	}()
	select {
	case err := <-got:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine lock held while waiting on the event queue")
	}
	if d.Backlog() != 3 {
		t.Errorf("backlog = %d, want 3 deposit batches", d.Backlog())
	}
}

func TestBookSnapshotIsConsistentUnderWrites(t *testing.T) {
	h := newHarness(t)
	h.market()
	h.deposit(traders[0], "USDT", ether(5000))

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			res, err := h.engine.CreateLimitOrder(traders[0], tk("BLUE"), tk("USDT"), ether(1), gwei(1+i%7), orderbook.Buy)
			if err != nil {
				return
			}
			if i%3 == 0 {
				_, _ = h.engine.CancelOrder(traders[0], res.Order.ID)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		snap, err := h.engine.GetBookSnapshot(tk("BLUE"), tk("USDT"), orderbook.Buy)
		if err != nil {
			t.Fatal(err)
		}
		levels, resting := new(uint256.Int), new(uint256.Int)
		count := 0
		for _, lvl := range snap.Levels {
			levels.Add(levels, &lvl.Amount)
			count += lvl.Orders
		}
		for j := range snap.Orders {
			resting.Add(resting, snap.Orders[j].Remaining())
		}
		if !levels.Eq(resting) || count != len(snap.Orders) {
			t.Fatalf("snapshot levels %s over %d orders, orders %s over %d", levels.Dec(), count, resting.Dec(), len(snap.Orders))
		}
	}
	close(stop)
	<-writerDone
}
