package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid", "0":
		return Buy, nil
	case "sell", "ask", "1":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", dexerr.ErrInvalidSide, s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Status uint8

const (
	Open Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "open"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = Open
	case "filled":
		*s = Filled
	case "cancelled":
		*s = Cancelled
	default:
		return fmt.Errorf("unknown order status %q", b)
	}
	return nil
}

// Pair is a base/quote market.
type Pair struct {
	Base  token.Ticker
	Quote token.Ticker
}

func (p Pair) String() string {
	return p.Base.String() + "-" + p.Quote.String()
}

func (p Pair) Less(o Pair) bool {
	if p.Base != o.Base {
		return string(p.Base[:]) < string(o.Base[:])
	}
	return string(p.Quote[:]) < string(o.Quote[:])
}

// Order is a limit order. Amount and Filled are in base units, Price in quote
// units per base unit scaled by the engine's price decimals.
//
// Locked is the part of the owner's reservation still held for this order:
// quote for a BUY, base for a SELL.
type Order struct {
	ID     uint64
	Trader common.Address
	Side   Side
	Pair   Pair
	Price  uint256.Int
	Amount uint256.Int
	Filled uint256.Int
	Locked uint256.Int
	Seq    uint64
	Status Status
}

// Remaining returns Amount - Filled.
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(&o.Amount, &o.Filled)
}

func (o *Order) IsOpen() bool {
	return o.Status == Open
}

// LockTicker is the ticker Locked is denominated in.
func (o *Order) LockTicker() token.Ticker {
	if o.Side == Buy {
		return o.Pair.Quote
	}
	return o.Pair.Base
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// before reports whether o sorts before other: ascending price, then sequence.
func (o *Order) before(other *Order) bool {
	if c := o.Price.Cmp(&other.Price); c != 0 {
		return c < 0
	}
	return o.Seq < other.Seq
}
