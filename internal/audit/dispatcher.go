package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// SecurityBufferSize sizes the separate queue for Security events.
	// Zero means BufferSize.
	SecurityBufferSize int
	// DropIfFull applies to routine events only. Security events are never
	// dropped.
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a single goroutine.
//
// Security events (reuse detection, family revocation) travel on their own
// queue, which the delivery loop always serves first. When that queue is full
// the event is handed to the sink on the caller's goroutine, so a burst of
// routine login noise can never cost a reuse record. Sinks must therefore be
// safe for concurrent use; every sink in this package is.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	routine  chan Event
	security chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Uint64

	// mu orders enqueues against Close so nothing lands in a queue after
	// the final drain.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled; every method is nil-safe.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SecurityBufferSize <= 0 {
		cfg.SecurityBufferSize = cfg.BufferSize
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		routine:  make(chan Event, cfg.BufferSize),
		security: make(chan Event, cfg.SecurityBufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ctx := context.Background()

	for {
		// Pending security events go out before any routine one.
		select {
		case event := <-d.security:
			d.sink.Emit(ctx, event)
			continue
		default:
		}

		select {
		case event := <-d.security:
			d.sink.Emit(ctx, event)
		case event := <-d.routine:
			d.sink.Emit(ctx, event)
		case <-d.done:
			d.drain(ctx, d.security)
			d.drain(ctx, d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, ch chan Event) {
	for {
		select {
		case event := <-ch:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit queues event. Routine events follow Config.DropIfFull; a Security
// event is queued if there is room and delivered inline otherwise, including
// after Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		if event.Security {
			d.sink.Emit(context.WithoutCancel(ctx), event)
		}
		return
	}

	if event.Security {
		select {
		case d.security <- event:
			d.mu.RUnlock()
		default:
			d.mu.RUnlock()
			d.sink.Emit(context.WithoutCancel(ctx), event)
		}
		return
	}
	defer d.mu.RUnlock()

	if d.cfg.DropIfFull {
		select {
		case d.routine <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.routine <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting queued events and waits until the queued ones are
// delivered. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}

// Dropped counts routine events discarded because the queue was full or the
// caller gave up waiting.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
