// Package sequence hands out the monotonic numbers that identify orders and
// break price ties in the book.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers starting at 1.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next value is last+1.
// Fresh store: last = 0. After recovery: the last issued number.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next issues the next number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset rewinds or advances the sequencer. Only used by recovery and by the
// engine to give back numbers of a rejected operation.
func (s *Sequencer) Reset(last uint64) {
	s.last.Store(last)
}
