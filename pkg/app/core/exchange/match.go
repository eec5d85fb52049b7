package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// CreateLimitOrder reserves the order's funds, matches it against the
// opposite side up to its limit price and rests any remainder in the book.
func (e *Engine) CreateLimitOrder(trader common.Address, base, quote token.Ticker, amount, price *uint256.Int, side orderbook.Side) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return nil, err
	}

	pair, err := e.validatePair(base, quote, side)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, dexerr.ErrInvalidAmount
	}
	if price == nil || price.IsZero() {
		return nil, dexerr.ErrInvalidPrice
	}
	notional, err := e.notional(amount, price)
	if err != nil {
		return nil, err
	}
	if notional.IsZero() {
		return nil, fmt.Errorf("%w: order value rounds to zero", dexerr.ErrInvalidAmount)
	}

	lock, lockSide := amount, dexerr.SideBase
	if side == orderbook.Buy {
		lock, lockSide = notional, dexerr.SideQuote
	}

	o := &orderbook.Order{Trader: trader, Side: side, Pair: pair, Status: orderbook.Open}
	o.Price.Set(price)
	o.Amount.Set(amount)
	o.Locked.Set(lock)

	tx := e.begin("create_limit_order", events.ReasonOrder)
	if err := e.ledger.Reserve(trader, o.LockTicker(), lock, lockSide); err != nil {
		tx.abort()
		return nil, err
	}
	o.ID = e.seq.Next()
	o.Seq = o.ID
	tx.track(o)

	fills, err := e.matchLimit(tx, o)
	if err != nil {
		tx.abort()
		return nil, err
	}
	if err := e.settleTaker(tx, o); err != nil {
		tx.abort()
		return nil, err
	}
	tx.emit(e.orderEvent(o))

	if err := tx.commit(); err != nil {
		return nil, err
	}

	e.log.Infow("limit order",
		"order_id", o.ID,
		"trader", trader.Hex(),
		"pair", pair.String(),
		"side", side.String(),
		"price", price.Dec(),
		"amount", amount.Dec(),
		"filled", o.Filled.Dec(),
		"status", o.Status.String(),
	)
	return &OrderResult{Order: *o, Fills: fills}, nil
}

// CreateMarketOrder executes amount against the opposite side at the resting
// prices. The walk is planned first and rejected as a whole if the trader
// cannot pay for every step; an unfilled remainder is discarded.
func (e *Engine) CreateMarketOrder(trader common.Address, base, quote token.Ticker, amount *uint256.Int, side orderbook.Side) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return nil, err
	}

	pair, err := e.validatePair(base, quote, side)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, dexerr.ErrInvalidAmount
	}

	steps, need, err := e.planMarket(pair, side, amount)
	if err != nil {
		return nil, err
	}

	payTicker, paySide := pair.Base, dexerr.SideBase
	if side == orderbook.Buy {
		payTicker, paySide = pair.Quote, dexerr.SideQuote
	}
	if avail := e.ledger.Available(trader, payTicker); avail.Lt(need) {
		return nil, &dexerr.BalanceError{Side: paySide, Ticker: payTicker.String(), Need: need.Dec(), Have: avail.Dec()}
	}

	taker := &orderbook.Order{Trader: trader, Side: side, Pair: pair}
	taker.Amount.Set(amount)

	tx := e.begin("create_market_order", events.ReasonFill)
	fills := make([]Fill, 0, len(steps))
	for _, st := range steps {
		f, err := e.execute(tx, taker, st.maker, st.amount, st.cost, false)
		if err != nil {
			tx.abort()
			return nil, err
		}
		fills = append(fills, f)
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}

	taker.Status = orderbook.Filled
	if !taker.Remaining().IsZero() {
		taker.Status = orderbook.Cancelled
	}
	e.log.Infow("market order",
		"trader", trader.Hex(),
		"pair", pair.String(),
		"side", side.String(),
		"amount", amount.Dec(),
		"filled", taker.Filled.Dec(),
		"fills", len(fills),
	)
	return &OrderResult{Order: *taker, Fills: fills}, nil
}

// CancelOrder releases the remaining reservation of an open order and takes
// it out of the book.
func (e *Engine) CancelOrder(trader common.Address, id uint64) (*orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkHalted(); err != nil {
		return nil, err
	}

	o, ok := e.books.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d is not open", dexerr.ErrOrderNotFound, id)
	}
	if o.Trader != trader {
		return nil, fmt.Errorf("%w: order %d", dexerr.ErrNotOrderOwner, id)
	}

	tx := e.begin("cancel_order", events.ReasonCancel)
	if _, err := tx.remove(id); err != nil {
		tx.abort()
		return nil, err
	}
	if err := e.ledger.Release(trader, o.LockTicker(), &o.Locked); err != nil {
		tx.abort()
		return nil, err
	}
	o.Locked.Clear()
	o.Status = orderbook.Cancelled
	tx.emit(e.orderEvent(o))

	if err := tx.commit(); err != nil {
		return nil, err
	}

	e.log.Infow("order cancelled", "order_id", id, "trader", trader.Hex(), "pair", o.Pair.String())
	return o.Clone(), nil
}

func (e *Engine) validatePair(base, quote token.Ticker, side orderbook.Side) (orderbook.Pair, error) {
	pair := orderbook.Pair{Base: base, Quote: quote}
	if err := e.requireRegistered(base, quote); err != nil {
		return pair, err
	}
	if base == quote {
		return pair, dexerr.ErrSameTicker
	}
	if !e.registry.IsApprovedQuote(quote) {
		return pair, fmt.Errorf("%w: %s", dexerr.ErrQuoteNotApproved, quote)
	}
	if side != orderbook.Buy && side != orderbook.Sell {
		return pair, fmt.Errorf("%w: %d", dexerr.ErrInvalidSide, side)
	}
	return pair, nil
}

// crosses reports whether a resting price satisfies a taker limit.
func crosses(takerSide orderbook.Side, resting, limit *uint256.Int) bool {
	if takerSide == orderbook.Buy {
		return !resting.Gt(limit)
	}
	return !resting.Lt(limit)
}

func (e *Engine) matchLimit(tx *tx, taker *orderbook.Order) ([]Fill, error) {
	ob, ok := e.books.Lookup(taker.Pair)
	if !ok {
		return nil, nil
	}
	opp := taker.Side.Opposite()

	var fills []Fill
	for !taker.Remaining().IsZero() {
		maker := ob.PeekBest(opp)
		if maker == nil || !crosses(taker.Side, &maker.Price, &taker.Price) {
			break
		}
		step := minU(taker.Remaining(), maker.Remaining())
		cost, err := e.notional(step, &maker.Price)
		if err != nil {
			return nil, dexerr.Invariantf("match", "order %d: %v", maker.ID, err)
		}
		f, err := e.execute(tx, taker, maker, step, cost, true)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// settleTaker finishes a limit taker after matching: a filled order returns
// its leftover lock, an open one keeps exactly what its remainder needs and
// rests in the book.
func (e *Engine) settleTaker(tx *tx, o *orderbook.Order) error {
	remaining := o.Remaining()
	if remaining.IsZero() {
		o.Status = orderbook.Filled
		if err := e.ledger.Release(o.Trader, o.LockTicker(), &o.Locked); err != nil {
			return err
		}
		o.Locked.Clear()
		return nil
	}

	if o.Side == orderbook.Buy {
		need, err := e.notional(remaining, &o.Price)
		if err != nil {
			return dexerr.Invariantf("match", "order %d: %v", o.ID, err)
		}
		if o.Locked.Lt(need) {
			return dexerr.Invariantf("match", "order %d locks %s but its remainder needs %s", o.ID, o.Locked.Dec(), need.Dec())
		}
		excess := new(uint256.Int).Sub(&o.Locked, need)
		if !excess.IsZero() {
			if err := e.ledger.Release(o.Trader, o.Pair.Quote, excess); err != nil {
				return err
			}
			o.Locked.Set(need)
		}
	}
	tx.insert(o)
	return nil
}

type marketStep struct {
	maker  *orderbook.Order
	amount *uint256.Int
	cost   *uint256.Int
}

// planMarket walks the book without touching it. need is the total quote
// cost for a BUY or the total base for a SELL.
func (e *Engine) planMarket(pair orderbook.Pair, side orderbook.Side, amount *uint256.Int) ([]marketStep, *uint256.Int, error) {
	need := new(uint256.Int)
	ob, ok := e.books.Lookup(pair)
	if !ok {
		return nil, need, nil
	}

	var (
		steps     []marketStep
		planErr   error
		remaining = amount.Clone()
	)
	ob.Walk(side.Opposite(), func(m *orderbook.Order) bool {
		if remaining.IsZero() {
			return false
		}
		step := minU(remaining, m.Remaining())
		cost, err := e.notional(step, &m.Price)
		if err != nil {
			planErr = err
			return false
		}
		steps = append(steps, marketStep{maker: m, amount: step, cost: cost})
		remaining.Sub(remaining, step)
		if side == orderbook.Buy {
			need.Add(need, cost)
		} else {
			need.Add(need, step)
		}
		return true
	})
	if planErr != nil {
		return nil, nil, planErr
	}
	return steps, need, nil
}

// execute settles one fill between taker and the resting maker at the
// maker's price. A limit taker pays from its reservation, a market taker
// from available funds.
func (e *Engine) execute(tx *tx, taker, maker *orderbook.Order, step, cost *uint256.Int, reserved bool) (Fill, error) {
	tx.track(maker)
	pair := maker.Pair

	if taker.Side == orderbook.Buy {
		if err := e.ledger.Settle(maker.Trader, taker.Trader, pair.Base, step); err != nil {
			return Fill{}, err
		}
		if err := consumeLock(maker, step); err != nil {
			return Fill{}, err
		}
		if err := e.pay(taker, maker.Trader, pair.Quote, cost, reserved, dexerr.SideQuote); err != nil {
			return Fill{}, err
		}
	} else {
		if err := e.pay(taker, maker.Trader, pair.Base, step, reserved, dexerr.SideBase); err != nil {
			return Fill{}, err
		}
		if err := e.ledger.Settle(maker.Trader, taker.Trader, pair.Quote, cost); err != nil {
			return Fill{}, err
		}
		if err := consumeLock(maker, cost); err != nil {
			return Fill{}, err
		}
	}

	maker.Filled.Add(&maker.Filled, step)
	taker.Filled.Add(&taker.Filled, step)

	if maker.Remaining().IsZero() {
		if popped := tx.removeBest(pair, maker.Side); popped != maker {
			return Fill{}, dexerr.Invariantf("match", "filled order %d is not the best %s", maker.ID, maker.Side)
		}
		maker.Status = orderbook.Filled
		if err := e.ledger.Release(maker.Trader, maker.LockTicker(), &maker.Locked); err != nil {
			return Fill{}, err
		}
		maker.Locked.Clear()
	}
	tx.emit(e.orderEvent(maker))

	f := Fill{MakerOrder: maker.ID, Maker: maker.Trader}
	f.Price.Set(&maker.Price)
	f.Amount.Set(step)
	f.Cost.Set(cost)
	tx.emit(events.NewFill(e.clock.Now(), events.Fill{
		Pair:       pair.String(),
		MakerOrder: maker.ID,
		TakerOrder: taker.ID,
		Maker:      maker.Trader,
		Taker:      taker.Trader,
		TakerSide:  taker.Side.String(),
		Price:      maker.Price.Dec(),
		Amount:     step.Dec(),
		Cost:       cost.Dec(),
	}))
	return f, nil
}

func (e *Engine) pay(taker *orderbook.Order, to common.Address, t token.Ticker, amount *uint256.Int, reserved bool, side dexerr.BalanceSide) error {
	if !reserved {
		return e.ledger.Transfer(taker.Trader, to, t, amount, side)
	}
	if err := e.ledger.Settle(taker.Trader, to, t, amount); err != nil {
		return err
	}
	return consumeLock(taker, amount)
}

func consumeLock(o *orderbook.Order, amount *uint256.Int) error {
	if o.Locked.Lt(amount) {
		return dexerr.Invariantf("match", "order %d locks %s, fill needs %s", o.ID, o.Locked.Dec(), amount.Dec())
	}
	o.Locked.Sub(&o.Locked, amount)
	return nil
}

func (e *Engine) orderEvent(o *orderbook.Order) events.Event {
	return events.NewOrder(e.clock.Now(), events.OrderUpdate{
		ID:     o.ID,
		Trader: o.Trader,
		Pair:   o.Pair.String(),
		Side:   o.Side.String(),
		Status: o.Status.String(),
		Price:  o.Price.Dec(),
		Amount: o.Amount.Dec(),
		Filled: o.Filled.Dec(),
	})
}
