package event

import (
	"log/slog"
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// BusStats contains runtime statistics.
type BusStats struct {
	Published     int64
	HandlerPanics int64
	NoSubscribers int64
}

// Bus is a synchronous publish/subscribe registry keyed by event type.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler

	statsMu       sync.Mutex
	published     int64
	handlerPanics int64
	noSubscribers int64
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for events of the given type. Handlers are
// invoked in subscription order.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event synchronously to all handlers registered for its
// type. A panicking handler is recovered so it cannot block delivery to the
// remaining subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.EventType()]
	b.mu.RUnlock()

	b.statsMu.Lock()
	b.published++
	if len(handlers) == 0 {
		b.noSubscribers++
	}
	b.statsMu.Unlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.statsMu.Lock()
			b.handlerPanics++
			b.statsMu.Unlock()
			b.logger.Error("event handler panicked",
				"type", e.EventType(),
				"panic", r,
			)
		}
	}()

	h(e)
}

// Stats returns current bus statistics.
func (b *Bus) Stats() BusStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return BusStats{
		Published:     b.published,
		HandlerPanics: b.handlerPanics,
		NoSubscribers: b.noSubscribers,
	}
}
