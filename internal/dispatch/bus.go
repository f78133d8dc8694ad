package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler receives a published payload. A returned error is logged by the
// bus and does not stop delivery to other handlers.
type Handler func(payload any) error

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// subscriber is one registration on a channel. active is cleared on
// unsubscribe so an in-flight delivery snapshot skips it.
type subscriber struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

// Bus is a channel-keyed, synchronous fan-out.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	subs   map[string][]*subscriber
	nextID uint64
	mu     sync.RWMutex

	published atomic.Uint64
	failures  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*subscriber),
	}
}

// Subscribe registers handler on channel and returns a function that removes
// it. The unsubscribe function is idempotent.
func (b *Bus) Subscribe(channel string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	sub.active.Store(true)
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.remove(channel, sub.id)
		})
	}
}

// remove drops a subscriber from the channel list. The slice is rebuilt so
// snapshots already handed to Publish are not mutated.
func (b *Bus) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[channel]
	kept := make([]*subscriber, 0, len(current))
	for _, s := range current {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = kept
}

// Publish delivers payload to every handler currently registered on channel,
// in registration order. It never returns an error and never panics because
// of a handler.
func (b *Bus) Publish(channel string, payload any) {
	b.mu.RLock()
	snapshot := b.subs[channel]
	b.mu.RUnlock()

	b.published.Add(1)

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		b.deliver(channel, sub, payload)
	}
}

// deliver invokes one handler with panic recovery.
func (b *Bus) deliver(channel string, sub *subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.logError("dispatch handler panic recovered", fmt.Errorf("panic: %v", r), "channel", channel)
		}
	}()

	if err := sub.handler(payload); err != nil {
		b.failures.Add(1)
		b.logWarn("dispatch handler returned error", "channel", channel, "error", err)
	}
}

// SubscriberCount returns the number of handlers registered on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Stats holds bus counters.
type Stats struct {
	Published       uint64
	HandlerFailures uint64
}

// Stats returns publish and failure counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:       b.published.Load(),
		HandlerFailures: b.failures.Load(),
	}
}

// SetLogger sets the logger for handler failures.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bus) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bus) logError(msg string, err error, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
