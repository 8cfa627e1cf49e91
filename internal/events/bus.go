// Package events provides an explicit publish/subscribe channel for
// cross-component notifications. A Bus is created once per application
// instance and passed to whoever needs it; there is no package-level bus, so
// tests can build isolated instances.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome classifies how a proxied call ended.
type Outcome string

const (
	OutcomeRelayed          Outcome = "relayed"
	OutcomeMethodNotAllowed Outcome = "method_not_allowed"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeUpstreamError    Outcome = "upstream_error"
	OutcomeRejected         Outcome = "rejected"
)

// ProxyEvent describes one request handled by the upstream proxy.
type ProxyEvent struct {
	RequestID         string
	Route             string
	Method            string
	Path              string // inbound request path
	UpstreamPath      string
	Status            int
	Outcome           Outcome
	Code              string
	IdempotencyKey    string
	IdempotencyStatus string
	Latency           time.Duration
	At                time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block for long.
type Handler func(ctx context.Context, ev ProxyEvent)

// Bus fans events out to its subscribers. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber. A panicking subscriber is logged
// and skipped; the others still receive the event. A nil Bus drops events.
func (b *Bus) Publish(ctx context.Context, ev ProxyEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(ctx, h, ev)
	}
}

func deliver(ctx context.Context, h Handler, ev ProxyEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("route", ev.Route).
				Str("request_id", ev.RequestID).
				Msg("event subscriber panicked")
		}
	}()
	h(ctx, ev)
}
