package events

import (
	"context"
	"sync"
	"time"

	"github.com/uhyunpark/spotdex/pkg/util"
	"go.uber.org/zap"
)

// Emitter accepts committed event batches. Emit must not block: the engine
// calls it while holding its lock.
type Emitter interface {
	Emit(evs []Event)
}

// Dispatcher queues batches and publishes them to a sink from one goroutine,
// so batches reach the sink in commit order. A failing sink is retried a few
// times and then the batch is logged and dropped; it never affects the
// committed state.
//
// The queue is unbounded. A backlog above the configured buffer is logged
// once per episode so a stalled sink is visible.
type Dispatcher struct {
	sink    Sink
	log     *zap.SugaredLogger
	clock   util.Clock
	warnAt  int
	retries int
	backoff time.Duration

	mu     sync.Mutex
	queue  [][]Event
	closed bool
	warned bool
	wake   chan struct{}
	done   chan struct{}
}

func NewDispatcher(sink Sink, log *zap.SugaredLogger, clock util.Clock, buffer int) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		log:     log,
		clock:   clock,
		warnAt:  buffer,
		retries: 3,
		backoff: 200 * time.Millisecond,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Emit enqueues evs and returns immediately.
func (d *Dispatcher) Emit(evs []Event) {
	if len(evs) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warnw("event dispatcher closed, dropping events", "events", len(evs), "first_id", evs[0].ID)
		return
	}
	d.queue = append(d.queue, evs)
	backlog := len(d.queue)
	warn := backlog > d.warnAt && !d.warned
	if warn {
		d.warned = true
	}
	d.mu.Unlock()

	if warn {
		d.log.Warnw("event backlog growing", "batches", backlog, "buffer", d.warnAt)
	}
	d.signal()
}

// Backlog returns the number of batches not yet handed to the sink.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run publishes queued batches until Close is called and the queue is drained.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		batches, closed := d.take()
		for _, evs := range batches {
			d.publish(ctx, evs)
		}
		if len(batches) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// Close stops accepting events and waits for Run to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) take() ([][]Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	batches := d.queue
	d.queue = nil
	if len(batches) > 0 && d.warned {
		d.warned = false
	}
	return batches, d.closed
}

func (d *Dispatcher) publish(ctx context.Context, evs []Event) {
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if err = d.sink.Publish(ctx, evs); err == nil {
			return
		}
		d.log.Warnw("event sink failed", "attempt", attempt+1, "events", len(evs), "err", err)
		select {
		case <-ctx.Done():
			d.log.Errorw("dropping events on shutdown", "events", len(evs), "err", ctx.Err())
			return
		case <-d.clock.After(d.backoff):
		}
	}
	d.log.Errorw("dropping events after retries", "events", len(evs), "first_id", evs[0].ID, "err", err)
}
