package exchange

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

// DefaultPriceDecimals scales prices like gwei: a price of 10 quote per base
// is written 10 * 10^9.
const DefaultPriceDecimals = 9

func priceScale(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// notional returns amount * price / scale rounded down.
func (e *Engine) notional(amount, price *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulDivOverflow(amount, price, &e.scale)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s overflows", dexerr.ErrInvalidAmount, amount.Dec(), price.Dec())
	}
	return z, nil
}

func minU(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
