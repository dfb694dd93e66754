// Package devtools provides a batching event emitter for instrumentation
// surfaces: events accumulate into batches flushed on size or interval,
// then fan out to any number of subscribers.
package devtools

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ricochet1k/driftwire/pkg/events"
)

const (
	defaultMaxBatch      = 32
	defaultFlushInterval = 250 * time.Millisecond
)

// Batch is one flushed group of events, in emission order.
type Batch []events.Event

// Emitter batches emitted events and fans each completed batch out to
// subscribers. A subscriber whose buffer is full misses that batch;
// closed subscribers are pruned on the next flush. Close is terminal.
type Emitter struct {
	maxBatch int
	interval time.Duration

	mu          sync.Mutex
	buf         []events.Event
	timer       *time.Timer
	subscribers []*subscriber
	closed      bool
}

func NewEmitter(maxBatch int, flushInterval time.Duration) *Emitter {
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Emitter{maxBatch: maxBatch, interval: flushInterval}
}

type subscriber struct {
	c      chan Batch
	closed atomic.Bool
}

func (s *subscriber) send(b Batch) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.c <- b:
	default:
		// full buffer: the subscriber misses this batch
	}
	return true
}

// Receiver is the consuming end of a subscription.
type Receiver struct {
	C   <-chan Batch
	sub *subscriber
}

// Close detaches the receiver; the emitter prunes it on the next flush.
func (r *Receiver) Close() {
	r.sub.closed.Store(true)
}

// Subscribe registers a new receiver. bufSize controls how many flushed
// batches may queue before further batches are missed.
func (e *Emitter) Subscribe(bufSize int) *Receiver {
	if bufSize <= 0 {
		bufSize = 1
	}
	sub := &subscriber{c: make(chan Batch, bufSize)}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(sub.c)
		sub.closed.Store(true)
		return &Receiver{C: sub.c, sub: sub}
	}
	e.subscribers = append(e.subscribers, sub)
	e.mu.Unlock()
	return &Receiver{C: sub.c, sub: sub}
}

// Emit buffers one event, flushing when the batch is full and otherwise
// arming the interval timer.
func (e *Emitter) Emit(ev events.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.buf = append(e.buf, ev)
	if len(e.buf) >= e.maxBatch {
		e.flushLocked()
		e.mu.Unlock()
		return
	}
	if e.timer == nil {
		e.timer = time.AfterFunc(e.interval, e.Flush)
	}
	e.mu.Unlock()
}

// Flush delivers any buffered events immediately.
func (e *Emitter) Flush() {
	e.mu.Lock()
	if !e.closed {
		e.flushLocked()
	}
	e.mu.Unlock()
}

func (e *Emitter) flushLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if len(e.buf) == 0 {
		return
	}
	batch := Batch(e.buf)
	e.buf = nil

	alive := e.subscribers[:0]
	for _, sub := range e.subscribers {
		if sub.send(batch) {
			alive = append(alive, sub)
		} else {
			close(sub.c)
		}
	}
	e.subscribers = alive
}

// Close flushes remaining events and closes every subscriber channel.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.flushLocked()
	e.closed = true
	for _, sub := range e.subscribers {
		if !sub.closed.Load() {
			close(sub.c)
			sub.closed.Store(true)
		}
	}
	e.subscribers = nil
	e.mu.Unlock()
}
