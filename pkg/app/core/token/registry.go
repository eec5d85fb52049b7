// Package token keeps the set of tradable tickers, the external asset each
// one is bound to, and which of them may be used as the quote leg of a pair.
package token

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

// Info is the registry entry of one ticker as exposed to callers and the store.
type Info struct {
	Ticker Ticker           `json:"ticker"`
	Index  int              `json:"index"`
	Quote  bool             `json:"quote"`
	Asset  asset.Descriptor `json:"asset"`
}

type entry struct {
	handle asset.Handle
	index  int
	quote  bool
}

// Registry maps tickers to asset handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Ticker]*entry
	order   []Ticker // registration order
	native  Ticker
}

// NewRegistry creates a registry with the native asset already registered.
func NewRegistry(native Ticker, nativeHandle asset.Handle) *Registry {
	r := &Registry{
		entries: make(map[Ticker]*entry),
		native:  native,
	}
	r.entries[native] = &entry{handle: nativeHandle, index: 0}
	r.order = append(r.order, native)
	return r
}

// Register binds ticker to handle.
// Returns ErrDuplicateTicker if the ticker is already bound.
func (r *Registry) Register(t Ticker, h asset.Handle) error {
	if t.IsZero() {
		return fmt.Errorf("%w: empty", dexerr.ErrInvalidTicker)
	}
	if h == nil {
		return fmt.Errorf("register %s: nil asset handle", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t]; exists {
		return fmt.Errorf("%w: %s", dexerr.ErrDuplicateTicker, t)
	}
	r.entries[t] = &entry{handle: h, index: len(r.order)}
	r.order = append(r.order, t)
	return nil
}

// ApproveQuote marks ticker as a valid quote asset. Approving twice is a no-op.
func (r *Registry) ApproveQuote(t Ticker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[t]
	if !exists {
		return fmt.Errorf("%w: %s", dexerr.ErrUnknownTicker, t)
	}
	e.quote = true
	return nil
}

func (r *Registry) IsRegistered(t Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[t]
	return exists
}

func (r *Registry) IsApprovedQuote(t Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[t]
	return exists && e.quote
}

// IsNative reports whether t is the native asset ticker.
func (r *Registry) IsNative(t Ticker) bool {
	return t == r.native
}

func (r *Registry) Native() Ticker {
	return r.native
}

// Handle returns the asset bound to ticker.
func (r *Registry) Handle(t Ticker) (asset.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[t]
	if !exists {
		return nil, fmt.Errorf("%w: %s", dexerr.ErrUnknownTicker, t)
	}
	return e.handle, nil
}

// Info returns the registry entry of ticker.
func (r *Registry) Info(t Ticker) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[t]
	if !exists {
		return Info{}, fmt.Errorf("%w: %s", dexerr.ErrUnknownTicker, t)
	}
	return r.infoLocked(t, e), nil
}

// Tickers returns all tickers in registration order.
func (r *Registry) Tickers() []Ticker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ticker, len(r.order))
	copy(out, r.order)
	return out
}

// QuoteTickers returns the approved quote tickers in registration order.
func (r *Registry) QuoteTickers() []Ticker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ticker, 0)
	for _, t := range r.order {
		if r.entries[t].quote {
			out = append(out, t)
		}
	}
	return out
}

// Infos returns every entry in registration order.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.infoLocked(t, r.entries[t]))
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) infoLocked(t Ticker, e *entry) Info {
	return Info{Ticker: t, Index: e.index, Quote: e.quote, Asset: e.handle.Describe()}
}
