package asset

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Binder turns persisted descriptors back into live handles. Memory tokens
// are created on first use and then shared; ERC20 handles need a chain.
type Binder struct {
	mu      sync.Mutex
	custody common.Address
	native  Handle
	memory  map[string]*MemoryToken
	erc20   map[common.Address]*ERC20

	client  ChainClient
	key     *ecdsa.PrivateKey
	chainID *big.Int
	confirm time.Duration
}

func NewBinder(custody common.Address, native Handle) *Binder {
	return &Binder{
		custody: custody,
		native:  native,
		memory:  make(map[string]*MemoryToken),
		erc20:   make(map[common.Address]*ERC20),
	}
}

// WithChain enables ERC20 descriptors. confirm bounds the receipt wait of
// each transfer; zero uses DefaultConfirmTimeout.
func (b *Binder) WithChain(client ChainClient, custodyKey *ecdsa.PrivateKey, chainID *big.Int, confirm time.Duration) *Binder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client, b.key, b.chainID, b.confirm = client, custodyKey, chainID, confirm
	return b
}

// Resolve returns the handle for d.
func (b *Binder) Resolve(d Descriptor) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch d.Kind {
	case KindNative:
		if b.native == nil || b.native.Describe() != d {
			return nil, fmt.Errorf("native asset %q is not this chain's", d.Ref)
		}
		return b.native, nil

	case KindMemory:
		symbol := strings.ToUpper(strings.TrimSpace(d.Ref))
		if symbol == "" {
			return nil, fmt.Errorf("memory token needs a symbol")
		}
		tok, ok := b.memory[symbol]
		if !ok {
			tok = NewMemoryToken(symbol, b.custody)
			b.memory[symbol] = tok
		}
		return tok, nil

	case KindERC20:
		if b.client == nil {
			return nil, fmt.Errorf("erc20 %s: no chain client configured", d.Ref)
		}
		if !common.IsHexAddress(d.Ref) {
			return nil, fmt.Errorf("erc20 %q: not an address", d.Ref)
		}
		addr := common.HexToAddress(d.Ref)
		tok, ok := b.erc20[addr]
		if !ok {
			tok = NewERC20(b.client, addr, b.key, b.chainID).WithConfirmTimeout(b.confirm)
			b.erc20[addr] = tok
		}
		return tok, nil
	}
	return nil, fmt.Errorf("unknown asset kind %q", d.Kind)
}

// Memory returns the memory token bound to symbol, if any. The dev faucet
// mints through it.
func (b *Binder) Memory(symbol string) (*MemoryToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok, ok := b.memory[strings.ToUpper(symbol)]
	return tok, ok
}
