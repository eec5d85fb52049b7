package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sink receives batches of committed events.
type Sink interface {
	Publish(ctx context.Context, evs []Event) error
}

// Multi fans a batch out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evs []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, evs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, evs []Event) error {
	for _, e := range evs {
		switch {
		case e.Balance != nil:
			b := e.Balance
			s.log.Infow("balance",
				"event_id", e.ID,
				"trader", b.Trader.Hex(),
				"ticker", b.Ticker,
				"total", b.Total,
				"reserved", b.Reserved,
				"reason", b.Reason,
			)
		case e.Fill != nil:
			f := e.Fill
			s.log.Infow("fill",
				"event_id", e.ID,
				"pair", f.Pair,
				"maker_order", f.MakerOrder,
				"taker_order", f.TakerOrder,
				"maker", f.Maker.Hex(),
				"taker", f.Taker.Hex(),
				"price", f.Price,
				"amount", f.Amount,
				"cost", f.Cost,
			)
		case e.Order != nil:
			o := e.Order
			s.log.Infow("order",
				"event_id", e.ID,
				"order_id", o.ID,
				"trader", o.Trader.Hex(),
				"pair", o.Pair,
				"side", o.Side,
				"status", o.Status,
				"filled", o.Filled,
			)
		}
	}
	return nil
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

// Emit lets a Recorder stand in for a Dispatcher.
func (r *Recorder) Emit(evs []Event) {
	_ = r.Publish(context.Background(), evs)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
