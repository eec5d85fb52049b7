package orderbook

import (
	"fmt"
	"sort"

	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

// Books indexes the order book of every pair plus all open orders by id.
// Books are created on first use.
type Books struct {
	books map[Pair]*OrderBook
	open  map[uint64]*Order
}

func NewBooks() *Books {
	return &Books{
		books: make(map[Pair]*OrderBook),
		open:  make(map[uint64]*Order),
	}
}

// Book returns the book of p, creating it lazily.
func (bs *Books) Book(p Pair) *OrderBook {
	ob, ok := bs.books[p]
	if !ok {
		ob = NewOrderBook(p)
		bs.books[p] = ob
	}
	return ob
}

// Lookup returns the book of p without creating it.
func (bs *Books) Lookup(p Pair) (*OrderBook, bool) {
	ob, ok := bs.books[p]
	return ob, ok
}

// Insert rests o in its pair's book.
func (bs *Books) Insert(o *Order) {
	bs.Book(o.Pair).Insert(o)
	bs.open[o.ID] = o
}

// Remove takes order id out of its book.
func (bs *Books) Remove(id uint64) (*Order, error) {
	o, ok := bs.open[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", dexerr.ErrOrderNotFound, id)
	}
	if _, err := bs.Book(o.Pair).Remove(id); err != nil {
		return nil, err
	}
	delete(bs.open, id)
	return o, nil
}

// RemoveBest pops the best order of side s in pair p.
func (bs *Books) RemoveBest(p Pair, s Side) *Order {
	ob, ok := bs.books[p]
	if !ok {
		return nil
	}
	o := ob.RemoveBest(s)
	if o != nil {
		delete(bs.open, o.ID)
	}
	return o
}

// Get returns the open order with id.
func (bs *Books) Get(id uint64) (*Order, bool) {
	o, ok := bs.open[id]
	return o, ok
}

// Open returns all open orders sorted by id.
func (bs *Books) Open() []*Order {
	out := make([]*Order, 0, len(bs.open))
	for _, o := range bs.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (bs *Books) Count() int {
	return len(bs.open)
}

// Pairs returns every pair that has a book, sorted.
func (bs *Books) Pairs() []Pair {
	out := make([]Pair, 0, len(bs.books))
	for p := range bs.books {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Reset drops every book and order.
func (bs *Books) Reset() {
	bs.books = make(map[Pair]*OrderBook)
	bs.open = make(map[uint64]*Order)
}
