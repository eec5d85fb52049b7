// Package exchange is the matching engine: it validates requests against the
// token registry, reserves funds in the ledger, matches orders under
// price-time priority and persists every operation as one storage batch.
//
// All mutations are serialized by a single lock. Reads take the read lock and
// see only committed state.
package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/sequence"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/util"
	"go.uber.org/zap"
)

// Resolver binds a persisted asset descriptor to a live handle during recovery.
type Resolver func(asset.Descriptor) (asset.Handle, error)

type Options struct {
	PriceDecimals uint8
	Clock         util.Clock
	Resolve       Resolver
}

type Engine struct {
	mu sync.RWMutex

	registry *token.Registry
	ledger   *ledger.Ledger
	books    *orderbook.Books
	seq      *sequence.Sequencer
	store    *storage.Store
	emitter  events.Emitter
	log      *zap.SugaredLogger
	clock    util.Clock
	resolve  Resolver

	scale    uint256.Int
	decimals uint8

	// set when state left custody but could not be persisted
	halted error

	// transfers whose outcome was unknown when their request returned
	pending  sync.WaitGroup
	bg       context.Context
	cancelBg context.CancelFunc
}

func New(registry *token.Registry, store *storage.Store, emitter events.Emitter, log *zap.SugaredLogger, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	e := &Engine{
		registry: registry,
		ledger:   ledger.New(),
		books:    orderbook.NewBooks(),
		seq:      sequence.New(0),
		store:    store,
		emitter:  emitter,
		log:      log,
		clock:    opts.Clock,
		resolve:  opts.Resolve,
		decimals: opts.PriceDecimals,
	}
	e.scale = *priceScale(opts.PriceDecimals)
	e.bg, e.cancelBg = context.WithCancel(context.Background())
	return e
}

// Close waits for pending external transfers to resolve until ctx ends, then
// abandons the rest. Abandoned transfers are logged for reconciliation.
func (e *Engine) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancelBg()
		<-done
	}
	e.cancelBg()
}

func (e *Engine) PriceDecimals() uint8 { return e.decimals }

func (e *Engine) Registry() *token.Registry { return e.registry }

// OrderResult is the outcome of an order request. Order.ID is 0 for market
// orders.
type OrderResult struct {
	Order orderbook.Order
	Fills []Fill
}

// Fill is one execution at the maker's price.
type Fill struct {
	MakerOrder uint64
	Maker      common.Address
	Price      uint256.Int
	Amount     uint256.Int
	Cost       uint256.Int
}

// Filled returns the total base amount executed.
func (r *OrderResult) Filled() *uint256.Int {
	sum := new(uint256.Int)
	for i := range r.Fills {
		sum.Add(sum, &r.Fills[i].Amount)
	}
	return sum
}

// GetOrderBook returns a snapshot of one side of a pair, ascending by (price, seq).
func (e *Engine) GetOrderBook(base, quote token.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireRegistered(base, quote); err != nil {
		return nil, err
	}
	ob, ok := e.books.Lookup(orderbook.Pair{Base: base, Quote: quote})
	if !ok {
		return []orderbook.Order{}, nil
	}
	return ob.Orders(side), nil
}

// BookSnapshot is one side of a pair as seen under a single read lock.
type BookSnapshot struct {
	Orders []orderbook.Order
	Levels []orderbook.PriceLevel
}

// GetBookSnapshot returns the orders of one side of a pair together with
// their price levels, both taken from the same state.
func (e *Engine) GetBookSnapshot(base, quote token.Ticker, side orderbook.Side) (BookSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireRegistered(base, quote); err != nil {
		return BookSnapshot{}, err
	}
	ob, ok := e.books.Lookup(orderbook.Pair{Base: base, Quote: quote})
	if !ok {
		return BookSnapshot{Orders: []orderbook.Order{}}, nil
	}
	return BookSnapshot{Orders: ob.Orders(side), Levels: ob.Levels(side)}, nil
}

func (e *Engine) GetBalance(trader common.Address, t token.Ticker) (ledger.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireRegistered(t); err != nil {
		return ledger.Balance{}, err
	}
	return e.ledger.Balance(trader, t), nil
}

// GetTickers returns the added tickers in registration order. The native
// asset is built in and not listed.
func (e *Engine) GetTickers() []token.Ticker {
	all := e.registry.Tickers()
	out := make([]token.Ticker, 0, len(all))
	for _, t := range all {
		if !e.registry.IsNative(t) {
			out = append(out, t)
		}
	}
	return out
}

// GetOrder returns an open order from memory or a closed one from storage.
func (e *Engine) GetOrder(id uint64) (*orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if o, ok := e.books.Get(id); ok {
		return o.Clone(), nil
	}
	o, err := e.store.LoadOrder(id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %d", dexerr.ErrOrderNotFound, id)
	}
	return o, nil
}

// OpenOrders returns the number of resting orders across all pairs.
func (e *Engine) OpenOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books.Count()
}

func (e *Engine) requireRegistered(tickers ...token.Ticker) error {
	for _, t := range tickers {
		if !e.registry.IsRegistered(t) {
			return fmt.Errorf("%w: %s", dexerr.ErrUnknownTicker, t)
		}
	}
	return nil
}

func (e *Engine) checkHalted() error {
	if e.halted != nil {
		return dexerr.Invariantf("engine", "halted: %v", e.halted)
	}
	return nil
}

func (e *Engine) halt(err error) {
	e.halted = err
	e.log.Errorw("engine halted", "err", err)
}
