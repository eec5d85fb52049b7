package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Key addresses one balance row.
type Key struct {
	Trader common.Address
	Ticker token.Ticker
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Trader.Hex(), k.Ticker)
}

// Less orders keys by trader, then ticker.
func (k Key) Less(o Key) bool {
	if c := k.Trader.Cmp(o.Trader); c != 0 {
		return c < 0
	}
	return string(k.Ticker[:]) < string(o.Ticker[:])
}

// Balance is the custody position of one trader in one ticker.
// Reserved is the part earmarked for open orders; Reserved <= Total always.
type Balance struct {
	Total    uint256.Int
	Reserved uint256.Int
}

// Available returns Total - Reserved.
func (b Balance) Available() *uint256.Int {
	return new(uint256.Int).Sub(&b.Total, &b.Reserved)
}

// Validate checks reserved <= total.
func (b Balance) Validate() error {
	if b.Reserved.Gt(&b.Total) {
		return fmt.Errorf("reserved (%s) exceeds total (%s)", b.Reserved.Dec(), b.Total.Dec())
	}
	return nil
}

func (b Balance) IsZero() bool {
	return b.Total.IsZero() && b.Reserved.IsZero()
}

// Entry is one row of a ledger snapshot.
type Entry struct {
	Key     Key
	Balance Balance
}
