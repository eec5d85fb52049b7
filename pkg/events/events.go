// Package events carries the audit trail of the exchange: one record per
// balance change, per fill and per order status change. Records are only
// produced for committed operations.
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Kind string

const (
	KindBalance Kind = "balance"
	KindFill    Kind = "fill"
	KindOrder   Kind = "order"
)

// Reasons attached to balance changes.
const (
	ReasonDeposit  = "deposit"
	ReasonWithdraw = "withdraw"
	// ReasonWithdrawReverted restores a withdrawal whose transfer reverted
	// after the request had already returned.
	ReasonWithdrawReverted = "withdraw_reverted"
	ReasonOrder            = "order"
	ReasonFill             = "fill"
	ReasonCancel           = "cancel"
)

type Event struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Balance *BalanceChange `json:"balance,omitempty"`
	Fill    *Fill          `json:"fill,omitempty"`
	Order   *OrderUpdate   `json:"order,omitempty"`
}

// BalanceChange is the state of a balance row after a committed change.
type BalanceChange struct {
	Trader   common.Address `json:"trader"`
	Ticker   string         `json:"ticker"`
	Total    string         `json:"total"`
	Reserved string         `json:"reserved"`
	Reason   string         `json:"reason"`
}

// Fill is one match between a resting maker and a taker. TakerOrder is 0
// for market orders, which have no identity.
type Fill struct {
	Pair       string         `json:"pair"`
	MakerOrder uint64         `json:"maker_order"`
	TakerOrder uint64         `json:"taker_order"`
	Maker      common.Address `json:"maker"`
	Taker      common.Address `json:"taker"`
	TakerSide  string         `json:"taker_side"`
	Price      string         `json:"price"`
	Amount     string         `json:"amount"`
	Cost       string         `json:"cost"`
}

type OrderUpdate struct {
	ID     uint64         `json:"id"`
	Trader common.Address `json:"trader"`
	Pair   string         `json:"pair"`
	Side   string         `json:"side"`
	Status string         `json:"status"`
	Price  string         `json:"price"`
	Amount string         `json:"amount"`
	Filled string         `json:"filled"`
}

func NewBalance(at time.Time, c BalanceChange) Event {
	return Event{ID: uuid.New(), Kind: KindBalance, Time: at, Balance: &c}
}

func NewFill(at time.Time, f Fill) Event {
	return Event{ID: uuid.New(), Kind: KindFill, Time: at, Fill: &f}
}

func NewOrder(at time.Time, u OrderUpdate) Event {
	return Event{ID: uuid.New(), Kind: KindOrder, Time: at, Order: &u}
}

// Key is the partition key of e: the trader it concerns (the taker for fills).
func (e Event) Key() common.Address {
	switch {
	case e.Balance != nil:
		return e.Balance.Trader
	case e.Fill != nil:
		return e.Fill.Taker
	case e.Order != nil:
		return e.Order.Trader
	}
	return common.Address{}
}

// Channels lists the subscription channels e is delivered on.
func (e Event) Channels() []string {
	switch {
	case e.Balance != nil:
		return []string{"balances:" + e.Balance.Trader.Hex()}
	case e.Fill != nil:
		return []string{"fills:" + e.Fill.Pair}
	case e.Order != nil:
		return []string{"orders:" + e.Order.Trader.Hex()}
	}
	return nil
}
