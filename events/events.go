// Package events is the in-process publish/subscribe channel for session lifecycle
// notifications.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Type names a session lifecycle event.
type Type string

const (
	Login          Type = "login"
	Logout         Type = "logout"
	SessionExpired Type = "sessionExpired"
	TokenRefreshed Type = "tokenRefreshed"
	Unauthorized   Type = "unauthorized"
	Forbidden      Type = "forbidden"
)

// Types lists every event type in a stable order.
var Types = []Type{Login, Logout, SessionExpired, TokenRefreshed, Unauthorized, Forbidden}

// LoginPayload accompanies Login.
type LoginPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	// Remote is set when the login happened in another tab.
	Remote bool `json:"remote,omitempty"`
}

// LogoutPayload accompanies Logout.
type LogoutPayload struct {
	AllDevices bool `json:"allDevices"`
	Remote     bool `json:"remote,omitempty"`
}

// TokenRefreshedPayload accompanies TokenRefreshed.
type TokenRefreshedPayload struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionExpiredPayload accompanies SessionExpired.
type SessionExpiredPayload struct {
	Reason string `json:"reason"`
}

// UnauthorizedPayload accompanies Unauthorized.
type UnauthorizedPayload struct{}

// ForbiddenPayload accompanies Forbidden.
type ForbiddenPayload struct {
	Message string `json:"message"`
}

// Event is one notification delivered to handlers.
type Event struct {
	Type    Type
	Payload any
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously, in subscription order, on the emitting goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]subscription
	any    []subscription
	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty bus.
func NewBus(options ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Type][]subscription),
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// On subscribes handler to one event type. The returned function unsubscribes it.
func (b *Bus) On(t Type, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[t] = remove(b.subs[t], id)
	}
}

// OnAny subscribes handler to every event type. Handlers registered this way run
// after the type-specific ones.
func (b *Bus) OnAny(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.any = append(b.any, subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.any = remove(b.any, id)
	}
}

// Emit delivers an event to the current subscribers. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus) Emit(t Type, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[t])+len(b.any))
	for _, s := range b.subs[t] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.any {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	e := Event{Type: t, Payload: payload}
	for _, h := range handlers {
		b.invoke(h, e)
	}
}

// Off drops every subscription for one event type.
func (b *Bus) Off(t Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, t)
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Type][]subscription)
	b.any = nil
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Err(fmt.Errorf("%v", r)).Str("event", string(e.Type)).Msg("Event handler panicked")
		}
	}()
	h(e)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
