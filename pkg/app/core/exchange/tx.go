package exchange

import (
	"fmt"

	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// tx collects the effects of one mutating call. Ledger rows are journaled by
// the ledger itself; order and book changes register undo steps here.
type tx struct {
	e       *Engine
	name    string
	reason  string
	seq     uint64
	undo    []func()
	orders  map[uint64]*orderbook.Order
	touched []uint64
	tickers []token.Info
	events  []events.Event
}

func (e *Engine) begin(name, reason string) *tx {
	return &tx{
		e:      e,
		name:   name,
		reason: reason,
		seq:    e.seq.Current(),
		orders: make(map[uint64]*orderbook.Order),
	}
}

// track records the pre-image of o before its first change in this tx.
func (t *tx) track(o *orderbook.Order) {
	if _, seen := t.orders[o.ID]; seen {
		return
	}
	pre := *o
	t.undo = append(t.undo, func() { *o = pre })
	t.orders[o.ID] = o
	t.touched = append(t.touched, o.ID)
}

func (t *tx) insert(o *orderbook.Order) {
	t.track(o)
	t.e.books.Insert(o)
	t.undo = append(t.undo, func() { _, _ = t.e.books.Remove(o.ID) })
}

func (t *tx) removeBest(p orderbook.Pair, s orderbook.Side) *orderbook.Order {
	o := t.e.books.RemoveBest(p, s)
	if o != nil {
		t.track(o)
		t.undo = append(t.undo, func() { t.e.books.Insert(o) })
	}
	return o
}

func (t *tx) remove(id uint64) (*orderbook.Order, error) {
	o, err := t.e.books.Remove(id)
	if err != nil {
		return nil, err
	}
	t.track(o)
	t.undo = append(t.undo, func() { t.e.books.Insert(o) })
	return o, nil
}

func (t *tx) emit(ev events.Event) {
	t.events = append(t.events, ev)
}

// abort restores the state seen by begin.
func (t *tx) abort() {
	t.e.ledger.Rollback()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.e.seq.Reset(t.seq)
}

// commit persists the tx as one batch and then emits its events. On a storage
// failure the tx is aborted.
func (t *tx) commit() error {
	balances := t.e.ledger.Touched()
	if len(balances) == 0 && len(t.touched) == 0 && len(t.tickers) == 0 && t.e.seq.Current() == t.seq {
		return nil
	}

	b := t.e.store.NewBatch()
	fill := func() error {
		for _, info := range t.tickers {
			if err := b.PutTicker(info); err != nil {
				return err
			}
		}
		for _, bal := range balances {
			if err := b.PutBalance(bal); err != nil {
				return err
			}
		}
		for _, id := range t.touched {
			if err := b.PutOrder(t.orders[id]); err != nil {
				return err
			}
		}
		if cur := t.e.seq.Current(); cur != t.seq {
			return b.PutSeq(cur)
		}
		return nil
	}
	if err := fill(); err != nil {
		_ = b.Discard()
		t.abort()
		return fmt.Errorf("%s: persist: %w", t.name, err)
	}
	if err := b.Commit(); err != nil {
		t.abort()
		return fmt.Errorf("%s: persist: %w", t.name, err)
	}

	t.e.ledger.Commit()
	t.publish(balances)
	return nil
}

func (t *tx) publish(balances []ledger.Entry) {
	if t.e.emitter == nil {
		return
	}
	now := t.e.clock.Now()
	out := make([]events.Event, 0, len(t.events)+len(balances))
	out = append(out, t.events...)
	for _, bal := range balances {
		out = append(out, events.NewBalance(now, events.BalanceChange{
			Trader:   bal.Key.Trader,
			Ticker:   bal.Key.Ticker.String(),
			Total:    bal.Balance.Total.Dec(),
			Reserved: bal.Balance.Reserved.Dec(),
			Reason:   t.reason,
		}))
	}
	t.e.emitter.Emit(out)
}
