// Package ledger tracks per (trader, ticker) total and reserved balances.
//
// The ledger does no locking of its own: the exchange engine owns it and
// serializes every call. Each mutation is journaled so the engine can either
// commit the touched rows to storage or roll the whole operation back.
package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Ledger struct {
	balances map[Key]*Balance

	// pre-images of rows changed since the last Commit/Rollback; nil = row did not exist
	journal map[Key]*Balance
	touched []Key
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[Key]*Balance),
		journal:  make(map[Key]*Balance),
	}
}

// Balance returns a copy of the row; missing rows read as zero.
func (l *Ledger) Balance(trader common.Address, t token.Ticker) Balance {
	if b, ok := l.balances[Key{trader, t}]; ok {
		return *b
	}
	return Balance{}
}

func (l *Ledger) Available(trader common.Address, t token.Ticker) *uint256.Int {
	return l.Balance(trader, t).Available()
}

// Credit adds amount to total.
func (l *Ledger) Credit(trader common.Address, t token.Ticker, amount *uint256.Int) error {
	k := Key{trader, t}
	cur := l.Balance(trader, t)
	if _, overflow := new(uint256.Int).AddOverflow(&cur.Total, amount); overflow {
		return dexerr.Invariantf("credit", "total of %s overflows", k)
	}
	b := l.touch(k)
	b.Total.Add(&b.Total, amount)
	return nil
}

// Debit removes amount from total. Only available funds can leave.
func (l *Ledger) Debit(trader common.Address, t token.Ticker, amount *uint256.Int) error {
	if avail := l.Available(trader, t); avail.Lt(amount) {
		return &dexerr.BalanceError{Side: dexerr.SideWithdraw, Ticker: t.String(), Need: amount.Dec(), Have: avail.Dec()}
	}
	b := l.touch(Key{trader, t})
	b.Total.Sub(&b.Total, amount)
	return nil
}

// Reserve earmarks amount of available funds. side tags the error for callers.
func (l *Ledger) Reserve(trader common.Address, t token.Ticker, amount *uint256.Int, side dexerr.BalanceSide) error {
	if avail := l.Available(trader, t); avail.Lt(amount) {
		return &dexerr.BalanceError{Side: side, Ticker: t.String(), Need: amount.Dec(), Have: avail.Dec()}
	}
	b := l.touch(Key{trader, t})
	b.Reserved.Add(&b.Reserved, amount)
	return nil
}

// Release returns reserved funds to available.
func (l *Ledger) Release(trader common.Address, t token.Ticker, amount *uint256.Int) error {
	k := Key{trader, t}
	if cur := l.Balance(trader, t); cur.Reserved.Lt(amount) {
		return dexerr.Invariantf("release", "%s releases %s but only %s is reserved", k, amount.Dec(), cur.Reserved.Dec())
	}
	b := l.touch(k)
	b.Reserved.Sub(&b.Reserved, amount)
	return nil
}

// Settle moves reserved funds of from into the total of to.
func (l *Ledger) Settle(from, to common.Address, t token.Ticker, amount *uint256.Int) error {
	src := Key{from, t}
	if cur := l.Balance(from, t); cur.Reserved.Lt(amount) {
		return dexerr.Invariantf("settle", "%s settles %s but only %s is reserved", src, amount.Dec(), cur.Reserved.Dec())
	}
	b := l.touch(src)
	b.Reserved.Sub(&b.Reserved, amount)
	b.Total.Sub(&b.Total, amount)
	return l.Credit(to, t, amount)
}

// Transfer moves available funds of from into the total of to.
func (l *Ledger) Transfer(from, to common.Address, t token.Ticker, amount *uint256.Int, side dexerr.BalanceSide) error {
	if avail := l.Available(from, t); avail.Lt(amount) {
		return &dexerr.BalanceError{Side: side, Ticker: t.String(), Need: amount.Dec(), Have: avail.Dec()}
	}
	b := l.touch(Key{from, t})
	b.Total.Sub(&b.Total, amount)
	return l.Credit(to, t, amount)
}

// Touched returns the rows changed since the last Commit/Rollback in first-touch order.
func (l *Ledger) Touched() []Entry {
	out := make([]Entry, 0, len(l.touched))
	for _, k := range l.touched {
		out = append(out, Entry{Key: k, Balance: *l.balances[k]})
	}
	return out
}

// Commit forgets the journal and returns the touched rows.
func (l *Ledger) Commit() []Entry {
	out := l.Touched()
	l.resetJournal()
	return out
}

// Rollback restores every row touched since the last Commit/Rollback.
func (l *Ledger) Rollback() {
	for k, pre := range l.journal {
		if pre == nil {
			delete(l.balances, k)
			continue
		}
		*l.balances[k] = *pre
	}
	l.resetJournal()
}

// TotalOf sums Total over all traders for ticker.
func (l *Ledger) TotalOf(t token.Ticker) *uint256.Int {
	sum := new(uint256.Int)
	for k, b := range l.balances {
		if k.Ticker == t {
			sum.Add(sum, &b.Total)
		}
	}
	return sum
}

// Snapshot returns all rows sorted by key.
func (l *Ledger) Snapshot() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		out = append(out, Entry{Key: k, Balance: *b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Restore replaces the ledger content, e.g. when recovering from storage.
func (l *Ledger) Restore(entries []Entry) error {
	balances := make(map[Key]*Balance, len(entries))
	for _, e := range entries {
		if err := e.Balance.Validate(); err != nil {
			return dexerr.Invariantf("restore", "%s: %v", e.Key, err)
		}
		b := e.Balance
		balances[e.Key] = &b
	}
	l.balances = balances
	l.resetJournal()
	return nil
}

// Validate checks reserved <= total on every row.
func (l *Ledger) Validate() error {
	for k, b := range l.balances {
		if err := b.Validate(); err != nil {
			return dexerr.Invariantf("validate", "%s: %v", k, err)
		}
	}
	return nil
}

// touch journals the pre-image of k and returns its live row, creating it lazily.
func (l *Ledger) touch(k Key) *Balance {
	b, exists := l.balances[k]
	if _, seen := l.journal[k]; !seen {
		if exists {
			pre := *b
			l.journal[k] = &pre
		} else {
			l.journal[k] = nil
		}
		l.touched = append(l.touched, k)
	}
	if !exists {
		b = new(Balance)
		l.balances[k] = b
	}
	return b
}

func (l *Ledger) resetJournal() {
	l.journal = make(map[Key]*Balance)
	l.touched = nil
}
