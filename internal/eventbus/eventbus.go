// Package eventbus is an in-process publish/subscribe bus for engine
// events.
//
// Publishers enqueue under a short lock and a dedicated
// dispatch goroutine drains the queue and delivers to subscribers outside
// any lock, so subscriber code never runs under the publish lock. A
// publisher waits only when the bounded dispatch queue is full.
package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// EventType enumerates the event contract's published types.
type EventType string

const (
	TradeExecuted            EventType = "trade_executed"
	PositionClosed           EventType = "position_closed"
	PositionMismatchDetected EventType = "position_mismatch_detected"
	PositionReconciliationOK EventType = "position_reconciliation_success"
	DailyLossBreached        EventType = "daily_loss_breached"
	StateChanged             EventType = "state_changed"
	StateStale               EventType = "state_stale"
)

// Event is one published occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives events. Implementations must be non-blocking and must
// not call back into the bus synchronously.
type Subscriber func(Event)

const defaultHistory = 1000
const dispatchQueueSize = 256

// Bus is a queue-and-drain publish/subscribe bus with bounded history and
// optional JSONL persistence for audit/restore-and-replay.
type Bus struct {
	mu          sync.Mutex
	subscribers map[EventType][]Subscriber
	wildcard    []Subscriber
	history     []Event
	maxHistory  int

	queue  chan Event
	logger *logrus.Logger

	persistMu sync.Mutex
	persistTo *os.File
}

// New returns a Bus whose dispatch loop must be started with Run.
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		maxHistory:  defaultHistory,
		queue:       make(chan Event, dispatchQueueSize),
		logger:      logger,
	}
}

// Subscribe registers fn for events of the given type. Use "*" to subscribe
// to every event type.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == "*" {
		b.wildcard = append(b.wildcard, fn)
		return
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], fn)
}

// EnablePersistence appends every published event as a JSON line to path.
func (b *Bus) EnablePersistence(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	b.persistMu.Lock()
	b.persistTo = f
	b.persistMu.Unlock()
	return nil
}

// Publish enqueues an event for dispatch. It never blocks on subscriber
// execution; if the dispatch queue is full, Publish blocks only on the
// channel send (backpressure), never on subscriber code.
func (b *Bus) Publish(eventType EventType, data any) {
	ev := Event{ID: ulid.Make().String(), Type: eventType, Data: data, Timestamp: time.Now()}
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	b.mu.Unlock()
	b.queue <- ev
}

// Run drains the dispatch queue and delivers events to subscribers until ctx
// is cancelled. Intended to run as a single long-lived goroutine so delivery
// never holds the publish lock.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.deliver(ev)
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.persist(ev)

	b.mu.Lock()
	subs := append([]Subscriber(nil), b.subscribers[ev.Type]...)
	subs = append(subs, b.wildcard...)
	b.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.WithField("event_type", ev.Type).WithField("recover", r).
						Error("event subscriber panicked")
				}
			}()
			fn(ev)
		}()
	}
}

func (b *Bus) persist(ev Event) {
	b.persistMu.Lock()
	f := b.persistTo
	b.persistMu.Unlock()
	if f == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		b.logger.WithError(err).Warn("failed to persist event")
	}
}

// History returns the last limit events, optionally filtered by type.
func (b *Bus) History(eventType EventType, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	if eventType == "" {
		out = append(out, b.history...)
	} else {
		for _, ev := range b.history {
			if ev.Type == eventType {
				out = append(out, ev)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
