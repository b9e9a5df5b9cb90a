package notify

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrListenerPanic marks a listener failure that was recovered from a panic.
var ErrListenerPanic = errors.New("listener panicked")

// Listener receives one event. A non-nil error is reported by the hub.
type Listener[E any] func(E) error

// Token identifies a subscription. Zero is never issued.
type Token uint64

type entry[E any] struct {
	token    Token
	listener Listener[E]
}

// Hub is an ordered list of listeners for events of type E.
type Hub[E any] struct {
	name     string
	entries  []entry[E]
	next     Token
	logger   *slog.Logger
	escalate func(error) bool
}

type config struct {
	logger   *slog.Logger
	escalate func(error) bool
}

// Option configures a Hub.
type Option func(*config)

// WithLogger sets the logger used to report listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEscalation sets the predicate deciding which listener failures are
// returned from Emit in addition to being logged.
func WithEscalation(fn func(error) bool) Option {
	return func(c *config) {
		c.escalate = fn
	}
}

// NewHub creates an empty hub. name appears in failure logs.
func NewHub[E any](name string, opts ...Option) *Hub[E] {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hub[E]{
		name:     name,
		logger:   cfg.logger,
		escalate: cfg.escalate,
	}
}

// Subscribe appends listener and returns its token.
func (h *Hub[E]) Subscribe(listener Listener[E]) Token {
	h.next++
	h.entries = append(h.entries, entry[E]{token: h.next, listener: listener})
	return h.next
}

// Unsubscribe removes the listener registered under token.
// It reports whether a listener was removed.
func (h *Hub[E]) Unsubscribe(token Token) bool {
	for i, e := range h.entries {
		if e.token == token {
			// Copy on write: an in-flight Emit keeps iterating its snapshot.
			entries := make([]entry[E], 0, len(h.entries)-1)
			entries = append(entries, h.entries[:i]...)
			entries = append(entries, h.entries[i+1:]...)
			h.entries = entries
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (h *Hub[E]) Len() int {
	return len(h.entries)
}

// Emit delivers event to the listeners registered when Emit was called.
// Every listener runs even if earlier ones fail. Escalated failures are
// joined into the returned error.
func (h *Hub[E]) Emit(event E) error {
	snapshot := h.entries

	var escalated []error
	for _, e := range snapshot {
		scope := fmt.Sprintf("%s listener %d", h.name, e.token)
		err := runSafely(scope, func() error { return e.listener(event) })
		if err == nil {
			continue
		}

		h.logger.Error("listener failed",
			"hub", h.name,
			"token", uint64(e.token),
			"error", err,
		)
		if h.escalate != nil && h.escalate(err) {
			escalated = append(escalated, err)
		}
	}

	if len(escalated) > 0 {
		return fmt.Errorf("emit %s: %w", h.name, errors.Join(escalated...))
	}
	return nil
}
