package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Pebble key schema:
//
//	tkr:{ticker}            -> tickerRecord
//	bal:{address}:{ticker}  -> balanceRecord
//	ord:{id, 20 digits}     -> orderRecord (open and closed)
//	nonce:{address}         -> last accepted request nonce
//	seq                     -> last issued order sequence
const (
	prefixTicker  = "tkr:"
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixNonce   = "nonce:"
	keySeq        = "seq"
)

func tickerKey(t token.Ticker) []byte {
	return []byte(prefixTicker + t.String())
}

// balanceKey format: "bal:0x742d35cc...:USDT"
func balanceKey(addr common.Address, t token.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), t))
}

// orderKey zero-pads the id so iteration follows id order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
