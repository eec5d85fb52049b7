// Package orderbook keeps the resting limit orders of every pair.
//
// Each side of a book is one slice sorted ascending by (price, seq). The best
// bid is the tail of the bid slice and the best ask is the head of the ask
// slice, so the matcher consumes both sides from a fixed end.
package orderbook

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

// PriceLevel aggregates the open amount at one price.
type PriceLevel struct {
	Price  uint256.Int
	Amount uint256.Int
	Orders int
}

// OrderBook holds one pair. It is not safe for concurrent use.
type OrderBook struct {
	pair Pair
	bids []*Order
	asks []*Order
}

func NewOrderBook(p Pair) *OrderBook {
	return &OrderBook{pair: p}
}

func (ob *OrderBook) Pair() Pair { return ob.pair }

func (ob *OrderBook) side(s Side) *[]*Order {
	if s == Buy {
		return &ob.bids
	}
	return &ob.asks
}

// Insert places o in ascending (price, seq) position. Equal prices keep
// arrival order because seq is monotonic.
func (ob *OrderBook) Insert(o *Order) {
	arr := ob.side(o.Side)
	i := sort.Search(len(*arr), func(i int) bool { return o.before((*arr)[i]) })
	*arr = append(*arr, nil)
	copy((*arr)[i+1:], (*arr)[i:])
	(*arr)[i] = o
}

// PeekBest returns the best order of side s, or nil if the side is empty.
func (ob *OrderBook) PeekBest(s Side) *Order {
	arr := *ob.side(s)
	if len(arr) == 0 {
		return nil
	}
	if s == Buy {
		return arr[len(arr)-1]
	}
	return arr[0]
}

// RemoveBest pops the best order of side s.
func (ob *OrderBook) RemoveBest(s Side) *Order {
	arr := ob.side(s)
	n := len(*arr)
	if n == 0 {
		return nil
	}
	var o *Order
	if s == Buy {
		o = (*arr)[n-1]
		(*arr)[n-1] = nil
		*arr = (*arr)[:n-1]
	} else {
		o = (*arr)[0]
		(*arr)[0] = nil
		*arr = (*arr)[1:]
	}
	return o
}

// Remove deletes the order with id from either side.
func (ob *OrderBook) Remove(id uint64) (*Order, error) {
	for _, s := range []Side{Buy, Sell} {
		arr := ob.side(s)
		for i, o := range *arr {
			if o.ID != id {
				continue
			}
			*arr = append((*arr)[:i], (*arr)[i+1:]...)
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: %d in %s", dexerr.ErrOrderNotFound, id, ob.pair)
}

// Walk visits side s from the best order outward until fn returns false.
func (ob *OrderBook) Walk(s Side, fn func(*Order) bool) {
	arr := *ob.side(s)
	if s == Buy {
		for i := len(arr) - 1; i >= 0; i-- {
			if !fn(arr[i]) {
				return
			}
		}
		return
	}
	for _, o := range arr {
		if !fn(o) {
			return
		}
	}
}

// Orders returns copies of side s in ascending (price, seq) order.
func (ob *OrderBook) Orders(s Side) []Order {
	arr := *ob.side(s)
	out := make([]Order, len(arr))
	for i, o := range arr {
		out[i] = *o
	}
	return out
}

func (ob *OrderBook) Len(s Side) int {
	return len(*ob.side(s))
}

// Levels aggregates side s by price, best price first.
func (ob *OrderBook) Levels(s Side) []PriceLevel {
	var levels []PriceLevel
	ob.Walk(s, func(o *Order) bool {
		n := len(levels)
		if n == 0 || !levels[n-1].Price.Eq(&o.Price) {
			levels = append(levels, PriceLevel{Price: o.Price})
			n++
		}
		levels[n-1].Amount.Add(&levels[n-1].Amount, o.Remaining())
		levels[n-1].Orders++
		return true
	})
	return levels
}
