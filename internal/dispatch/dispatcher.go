package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mealato/orderfeed/internal/event"
	"github.com/mealato/orderfeed/internal/metrics"
)

// Dispatcher fans inbound envelopes out to registered subscribers.
//
// Delivery runs on a single goroutine, so subscribers observe messages
// in arrival order. Each queued envelope is delivered exactly once to
// every subscriber registered at the moment delivery starts; a panic in
// one subscriber is recovered and never affects the others.
type Dispatcher interface {
	// Start begins draining the inbound queue.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the dispatcher.
	Stop(ctx context.Context) error

	// Enqueue hands an inbound envelope to the dispatch loop.
	// Returns false if the dispatcher has been stopped.
	Enqueue(env event.Envelope) bool

	// Subscribe registers a callback for inbound messages. The returned
	// function cancels the registration; calling it more than once is
	// harmless.
	Subscribe(fn func(event.Envelope)) (cancel func())

	// Count returns the number of registered subscribers.
	Count() int

	// Stats returns current dispatcher statistics.
	Stats() DispatcherStats
}

type subscriber struct {
	id string
	fn func(event.Envelope)
}

// dispatcher is the internal implementation.
type dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger

	queue *Queue[event.Envelope]

	// onPong is invoked for liveness replies, which are consumed here
	// and never forwarded to subscribers.
	onPong func()

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	subs      []subscriber
	delivered int64
	panics    int64
}

// NewDispatcher creates a new message dispatcher. onPong may be nil if
// liveness replies need no handling.
func NewDispatcher(cfg DispatcherConfig, onPong func(), logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &dispatcher{
		cfg:    cfg,
		logger: logger,
		queue:  NewQueue[event.Envelope](cfg.QueueCapacity),
		onPong: onPong,
	}
}

// Start begins draining the inbound queue.
func (d *dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.runLoop()

	d.logger.Info("dispatcher started", "queue_capacity", d.cfg.QueueCapacity)
	return nil
}

// Stop gracefully shuts down the dispatcher.
func (d *dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher")

	if d.cancel != nil {
		d.cancel()
	}
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
	}

	return nil
}

// Enqueue hands an inbound envelope to the dispatch loop.
func (d *dispatcher) Enqueue(env event.Envelope) bool {
	return d.queue.Push(env)
}

// Subscribe registers a callback for inbound messages.
func (d *dispatcher) Subscribe(fn func(event.Envelope)) func() {
	if fn == nil {
		return func() {}
	}

	id := uuid.NewString()

	d.mu.Lock()
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	count := len(d.subs)
	d.mu.Unlock()

	d.logger.Debug("subscriber registered", "subscriber_id", id, "subscribers", count)

	return func() {
		d.unsubscribe(id)
	}
}

// Count returns the number of registered subscribers.
func (d *dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Stats returns current statistics.
func (d *dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DispatcherStats{
		Subscribers: len(d.subs),
		Delivered:   d.delivered,
		Panics:      d.panics,
		Queue:       d.queue.Stats(),
	}
}

// runLoop is the single delivery goroutine.
func (d *dispatcher) runLoop() {
	defer d.wg.Done()

	for {
		env, ok := d.queue.Pop()
		if !ok {
			return
		}

		select {
		case <-d.ctx.Done():
			return
		default:
		}

		d.deliver(env)
	}
}

// deliver fans one envelope out to the subscriber set as it existed
// when delivery started. Registrations made during delivery see only
// later messages.
func (d *dispatcher) deliver(env event.Envelope) {
	if env.Type == event.TypePong {
		if d.onPong != nil {
			d.onPong()
		}
		return
	}

	start := time.Now()

	d.mu.Lock()
	subs := make([]subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	for _, sub := range subs {
		d.invoke(sub, env)
	}

	metrics.RecordDispatch(time.Since(start))

	d.mu.Lock()
	d.delivered++
	d.mu.Unlock()
}

// invoke calls one subscriber, recovering any panic so the remaining
// subscribers still receive the message.
func (d *dispatcher) invoke(sub subscriber, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.panics++
			d.mu.Unlock()
			metrics.RecordCallbackPanic()
			d.logger.Error("subscriber callback panicked",
				"subscriber_id", sub.id,
				"type", env.Type,
				"panic", r,
			)
		}
	}()

	sub.fn(env)
}

// unsubscribe removes a subscriber by id. Unknown ids are ignored, so
// cancelling twice is safe.
func (d *dispatcher) unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, sub := range d.subs {
		if sub.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			d.logger.Debug("subscriber removed", "subscriber_id", id, "subscribers", len(d.subs))
			return
		}
	}
}
