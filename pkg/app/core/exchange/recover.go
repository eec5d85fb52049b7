package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"golang.org/x/crypto/sha3"
)

// Recover loads the registry, balances and open orders from storage, rebuilds
// every book in sequence order and verifies the reservation invariant. It
// must run before any other call. Tickers bound before Recover must match
// their stored descriptor; stored tickers not yet bound are resolved.
func (e *Engine) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos, err := e.store.LoadTickers()
	if err != nil {
		return fmt.Errorf("recover tickers: %w", err)
	}
	stored := make(map[token.Ticker]bool, len(infos))
	for _, info := range infos {
		stored[info.Ticker] = true
		if err := e.bindStored(info); err != nil {
			return err
		}
	}

	// Persist bindings that exist only in memory, e.g. the native asset on a fresh store.
	tx := e.begin("recover", "")
	for _, info := range e.registry.Infos() {
		if !stored[info.Ticker] {
			tx.tickers = append(tx.tickers, info)
		}
	}
	if err := tx.commit(); err != nil {
		return err
	}

	balances, err := e.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("recover balances: %w", err)
	}
	if err := e.ledger.Restore(balances); err != nil {
		return err
	}

	orders, err := e.store.LoadOpenOrders()
	if err != nil {
		return fmt.Errorf("recover orders: %w", err)
	}
	last, err := e.store.LoadSeq()
	if err != nil {
		return fmt.Errorf("recover sequence: %w", err)
	}
	e.books.Reset()
	for _, o := range orders {
		if err := e.requireRegistered(o.Pair.Base, o.Pair.Quote); err != nil {
			return dexerr.Invariantf("recover", "order %d: %v", o.ID, err)
		}
		if o.Remaining().IsZero() {
			return dexerr.Invariantf("recover", "order %d is open but fully filled", o.ID)
		}
		if o.Seq > last {
			last = o.Seq
		}
		e.books.Insert(o)
	}
	e.seq.Reset(last)

	if err := e.checkInvariants(); err != nil {
		return err
	}

	e.log.Infow("state recovered",
		"tickers", e.registry.Count(),
		"balances", len(balances),
		"open_orders", len(orders),
		"last_seq", last,
	)
	return nil
}

func (e *Engine) bindStored(info token.Info) error {
	if e.registry.IsRegistered(info.Ticker) {
		cur, err := e.registry.Info(info.Ticker)
		if err != nil {
			return err
		}
		if cur.Asset != info.Asset {
			return dexerr.Invariantf("recover", "ticker %s stored as %s:%s, bound to %s:%s",
				info.Ticker, info.Asset.Kind, info.Asset.Ref, cur.Asset.Kind, cur.Asset.Ref)
		}
	} else {
		if e.resolve == nil {
			return dexerr.Invariantf("recover", "ticker %s is stored but not bound", info.Ticker)
		}
		h, err := e.resolve(info.Asset)
		if err != nil {
			return fmt.Errorf("recover ticker %s: %w", info.Ticker, err)
		}
		if err := e.registry.Register(info.Ticker, h); err != nil {
			return err
		}
	}
	if info.Quote {
		return e.registry.ApproveQuote(info.Ticker)
	}
	return nil
}

// CheckInvariants verifies reserved <= total, that every reservation is
// accounted for by open orders and that books are sorted.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkInvariants()
}

func (e *Engine) checkInvariants() error {
	if err := e.ledger.Validate(); err != nil {
		return err
	}

	locked := make(map[ledger.Key]*uint256.Int)
	for _, o := range e.books.Open() {
		if !o.IsOpen() {
			return dexerr.Invariantf("check", "order %d in book with status %s", o.ID, o.Status)
		}
		if o.Filled.Gt(&o.Amount) {
			return dexerr.Invariantf("check", "order %d overfilled", o.ID)
		}
		k := ledger.Key{Trader: o.Trader, Ticker: o.LockTicker()}
		if locked[k] == nil {
			locked[k] = new(uint256.Int)
		}
		locked[k].Add(locked[k], &o.Locked)
	}

	for _, entry := range e.ledger.Snapshot() {
		want := new(uint256.Int)
		if s, ok := locked[entry.Key]; ok {
			want = s
			delete(locked, entry.Key)
		}
		if !want.Eq(&entry.Balance.Reserved) {
			return dexerr.Invariantf("check", "%s reserves %s but open orders lock %s", entry.Key, entry.Balance.Reserved.Dec(), want.Dec())
		}
	}
	for k, s := range locked {
		if !s.IsZero() {
			return dexerr.Invariantf("check", "%s: open orders lock %s with no balance row", k, s.Dec())
		}
	}

	for _, p := range e.books.Pairs() {
		ob, _ := e.books.Lookup(p)
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			orders := ob.Orders(side)
			for i := 1; i < len(orders); i++ {
				prev, cur := &orders[i-1], &orders[i]
				if c := prev.Price.Cmp(&cur.Price); c > 0 || (c == 0 && prev.Seq > cur.Seq) {
					return dexerr.Invariantf("check", "%s %s side out of order at %d", p, side, i)
				}
			}
		}
	}
	return nil
}

// StateDigest hashes balances and books in a canonical order. Two engines
// that processed the same operations report the same digest.
func (e *Engine) StateDigest() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	for _, entry := range e.ledger.Snapshot() {
		if entry.Balance.IsZero() {
			continue
		}
		h.Write(entry.Key.Trader[:])
		h.Write(entry.Key.Ticker[:])
		total := entry.Balance.Total.Bytes32()
		reserved := entry.Balance.Reserved.Bytes32()
		h.Write(total[:])
		h.Write(reserved[:])
	}

	for _, p := range e.books.Pairs() {
		ob, _ := e.books.Lookup(p)
		if ob.Len(orderbook.Buy)+ob.Len(orderbook.Sell) == 0 {
			continue
		}
		h.Write(p.Base[:])
		h.Write(p.Quote[:])
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			for _, o := range ob.Orders(side) {
				binary.BigEndian.PutUint64(buf[:], o.ID)
				h.Write(buf[:])
				price := o.Price.Bytes32()
				remaining := o.Remaining().Bytes32()
				h.Write(price[:])
				h.Write(remaining[:])
			}
		}
	}

	return common.BytesToHash(h.Sum(nil))
}
