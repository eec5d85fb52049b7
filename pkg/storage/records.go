package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Amounts are stored as decimal strings so records stay readable with any
// pebble tooling.

type balanceRecord struct {
	Trader   common.Address `json:"trader"`
	Ticker   token.Ticker   `json:"ticker"`
	Total    string         `json:"total"`
	Reserved string         `json:"reserved"`
}

func newBalanceRecord(e ledger.Entry) balanceRecord {
	return balanceRecord{
		Trader:   e.Key.Trader,
		Ticker:   e.Key.Ticker,
		Total:    e.Balance.Total.Dec(),
		Reserved: e.Balance.Reserved.Dec(),
	}
}

func (r balanceRecord) entry() (ledger.Entry, error) {
	e := ledger.Entry{Key: ledger.Key{Trader: r.Trader, Ticker: r.Ticker}}
	if err := parseInto(&e.Balance.Total, r.Total); err != nil {
		return e, fmt.Errorf("balance %s total: %w", e.Key, err)
	}
	if err := parseInto(&e.Balance.Reserved, r.Reserved); err != nil {
		return e, fmt.Errorf("balance %s reserved: %w", e.Key, err)
	}
	return e, nil
}

type orderRecord struct {
	ID     uint64           `json:"id"`
	Trader common.Address   `json:"trader"`
	Side   orderbook.Side   `json:"side"`
	Base   token.Ticker     `json:"base"`
	Quote  token.Ticker     `json:"quote"`
	Price  string           `json:"price"`
	Amount string           `json:"amount"`
	Filled string           `json:"filled"`
	Locked string           `json:"locked"`
	Seq    uint64           `json:"seq"`
	Status orderbook.Status `json:"status"`
}

func newOrderRecord(o *orderbook.Order) orderRecord {
	return orderRecord{
		ID:     o.ID,
		Trader: o.Trader,
		Side:   o.Side,
		Base:   o.Pair.Base,
		Quote:  o.Pair.Quote,
		Price:  o.Price.Dec(),
		Amount: o.Amount.Dec(),
		Filled: o.Filled.Dec(),
		Locked: o.Locked.Dec(),
		Seq:    o.Seq,
		Status: o.Status,
	}
}

func (r orderRecord) order() (*orderbook.Order, error) {
	o := &orderbook.Order{
		ID:     r.ID,
		Trader: r.Trader,
		Side:   r.Side,
		Pair:   orderbook.Pair{Base: r.Base, Quote: r.Quote},
		Seq:    r.Seq,
		Status: r.Status,
	}
	fields := []struct {
		dst  *uint256.Int
		src  string
		name string
	}{
		{&o.Price, r.Price, "price"},
		{&o.Amount, r.Amount, "amount"},
		{&o.Filled, r.Filled, "filled"},
		{&o.Locked, r.Locked, "locked"},
	}
	for _, f := range fields {
		if err := parseInto(f.dst, f.src); err != nil {
			return nil, fmt.Errorf("order %d %s: %w", r.ID, f.name, err)
		}
	}
	return o, nil
}

func parseInto(dst *uint256.Int, s string) error {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return err
	}
	dst.Set(v)
	return nil
}
