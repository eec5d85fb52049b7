package exchange

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"go.uber.org/zap"
)

var (
	custody = common.HexToAddress("0xDE00000000000000000000000000000000000000")
	traders = []common.Address{
		common.HexToAddress("0x1000000000000000000000000000000000000001"),
		common.HexToAddress("0x2000000000000000000000000000000000000002"),
		common.HexToAddress("0x3000000000000000000000000000000000000003"),
		common.HexToAddress("0x4000000000000000000000000000000000000004"),
	}
	tokenNames = []string{"BLUE", "CYAN", "PINK", "RED", "USDT"}
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func gwei(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000))
}

func tk(s string) token.Ticker { return token.MustTicker(s) }

type harness struct {
	t      *testing.T
	path   string
	store  *storage.Store
	engine *Engine
	native *asset.NativeVault
	tokens map[string]*asset.MemoryToken
	chain  map[string]asset.Handle
	rec    *events.Recorder
}

// newHarness builds an engine over a fresh on-disk store, with every trader
// holding 10000 of each token outside the exchange.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		path:   filepath.Join(t.TempDir(), "db"),
		native: asset.NewNativeVault("ETH", custody, nil),
		tokens: make(map[string]*asset.MemoryToken),
		chain:  make(map[string]asset.Handle),
		rec:    &events.Recorder{},
	}
	for _, name := range tokenNames {
		tok := asset.NewMemoryToken(name, custody)
		for _, tr := range traders {
			tok.Mint(tr, ether(10000))
		}
		h.tokens[name] = tok
	}
	for _, tr := range traders {
		h.native.Fund(tr, ether(50000))
	}
	h.open()
	t.Cleanup(func() {
		if h.store != nil {
			h.store.Close()
		}
	})
	return h
}

// open (re)builds the engine on the harness store path and recovers it.
func (h *harness) open() {
	h.t.Helper()
	store, err := storage.Open(h.path)
	if err != nil {
		h.t.Fatalf("open store: %v", err)
	}
	h.store = store
	reg := token.NewRegistry(tk("ETH"), h.native)
	h.engine = New(reg, store, h.rec, zap.NewNop().Sugar(), Options{
		PriceDecimals: DefaultPriceDecimals,
		Resolve:       h.resolve,
	})
	if err := h.engine.Recover(); err != nil {
		h.t.Fatalf("recover: %v", err)
	}
}

func (h *harness) reopen() {
	h.t.Helper()
	if err := h.store.Close(); err != nil {
		h.t.Fatalf("close store: %v", err)
	}
	h.store = nil
	h.open()
}

func (h *harness) resolve(d asset.Descriptor) (asset.Handle, error) {
	if tok, ok := h.tokens[d.Ref]; ok && d.Kind == asset.KindMemory {
		return tok, nil
	}
	if handle, ok := h.chain[d.Ref]; ok && d.Kind == asset.KindERC20 {
		return handle, nil
	}
	return nil, errUnresolved
}

func (h *harness) addAllTokens() {
	h.t.Helper()
	for _, name := range tokenNames {
		if err := h.engine.RegisterTicker(tk(name), h.tokens[name]); err != nil {
			h.t.Fatalf("register %s: %v", name, err)
		}
	}
}

// market sets up BLUE/USDT with USDT approved as quote.
func (h *harness) market() {
	h.t.Helper()
	h.addAllTokens()
	if err := h.engine.ApproveQuote(tk("USDT")); err != nil {
		h.t.Fatalf("approve USDT: %v", err)
	}
}

func (h *harness) deposit(trader common.Address, ticker string, amount *uint256.Int) {
	h.t.Helper()
	if err := h.engine.Deposit(bg, trader, tk(ticker), amount); err != nil {
		h.t.Fatalf("deposit %s %s: %v", amount.Dec(), ticker, err)
	}
}

func (h *harness) limit(trader common.Address, amount, price *uint256.Int, side orderbook.Side) *OrderResult {
	h.t.Helper()
	res, err := h.engine.CreateLimitOrder(trader, tk("BLUE"), tk("USDT"), amount, price, side)
	if err != nil {
		h.t.Fatalf("limit %s %s @ %s: %v", side, amount.Dec(), price.Dec(), err)
	}
	h.checkInvariants()
	return res
}

func (h *harness) marketOrder(trader common.Address, amount *uint256.Int, side orderbook.Side) *OrderResult {
	h.t.Helper()
	res, err := h.engine.CreateMarketOrder(trader, tk("BLUE"), tk("USDT"), amount, side)
	if err != nil {
		h.t.Fatalf("market %s %s: %v", side, amount.Dec(), err)
	}
	h.checkInvariants()
	return res
}

func (h *harness) balance(trader common.Address, ticker string) ledger.Balance {
	h.t.Helper()
	b, err := h.engine.GetBalance(trader, tk(ticker))
	if err != nil {
		h.t.Fatalf("balance %s: %v", ticker, err)
	}
	return b
}

func (h *harness) assertTotal(trader common.Address, ticker string, want *uint256.Int) {
	h.t.Helper()
	if got := h.balance(trader, ticker); !got.Total.Eq(want) {
		h.t.Errorf("%s total %s = %s, want %s", trader.Hex()[:6], ticker, got.Total.Dec(), want.Dec())
	}
}

func (h *harness) assertReserved(trader common.Address, ticker string, want *uint256.Int) {
	h.t.Helper()
	if got := h.balance(trader, ticker); !got.Reserved.Eq(want) {
		h.t.Errorf("%s reserved %s = %s, want %s", trader.Hex()[:6], ticker, got.Reserved.Dec(), want.Dec())
	}
}

func (h *harness) book(side orderbook.Side) []orderbook.Order {
	h.t.Helper()
	orders, err := h.engine.GetOrderBook(tk("BLUE"), tk("USDT"), side)
	if err != nil {
		h.t.Fatalf("book: %v", err)
	}
	return orders
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	if err := h.engine.CheckInvariants(); err != nil {
		h.t.Fatalf("invariants: %v", err)
	}
	for name, tok := range h.tokens {
		if held, owed := tok.Custody(), h.engine.ledger.TotalOf(tk(name)); !held.Eq(owed) {
			h.t.Fatalf("%s: custody holds %s, ledger owes %s", name, held.Dec(), owed.Dec())
		}
	}
}
