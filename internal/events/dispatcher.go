// Package events carries lifecycle notifications between components over
// an explicit bounded queue instead of implicit global listeners.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	EventProcessed   Type = "eventProcessed"
	EventFailed      Type = "eventFailed"
	BatchCompleted   Type = "batchCompleted"
	ConflictDetected Type = "conflictDetected"
	SyncCompleted    Type = "syncCompleted"
	SyncFailed       Type = "syncFailed"
	BackupCompleted  Type = "backupCompleted"
	BackupFailed     Type = "backupFailed"
	RestoreCompleted Type = "restoreCompleted"
	RestoreFailed    Type = "restoreFailed"
)

type Event struct {
	Type      Type                   `json:"type"`
	Module    string                 `json:"module,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type Handler func(Event)

// Dispatcher fans published events out to registered handlers from a
// single worker goroutine. Publish never blocks: when the queue is full
// the event is dropped and counted, keeping back-pressure visible.
type Dispatcher struct {
	queue   chan Event
	logger  *zap.Logger
	dropped atomic.Int64

	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler

	done chan struct{}
	once sync.Once
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    make(chan Event, 1024),
		logger:   logger,
		handlers: make(map[Type][]Handler),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type.
func (d *Dispatcher) Subscribe(t Type, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// SubscribeAll registers a handler invoked for every event type.
func (d *Dispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

// Publish enqueues an event without blocking the caller.
func (d *Dispatcher) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Start runs the dispatch loop until Stop is called.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) run() {
	for {
		select {
		case e := <-d.queue:
			d.dispatch(e)
		case <-d.done:
			// Drain what is already queued before exiting
			for {
				select {
				case e := <-d.queue:
					d.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatch(e Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers[e.Type])+len(d.all))
	handlers = append(handlers, d.handlers[e.Type]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Stop signals the loop to drain and exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() { close(d.done) })
	return nil
}
