// Package bus fans session events out to live subscribers.
//
// The bus sits strictly downstream of the session store: an event reaches
// the bus only after the store owns it, so a reconnecting client replaying
// history sees exactly what live subscribers saw. Oversized payloads are
// truncated on a copy; the stored event is never touched.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/radbotlabs/radbot/pkg/models"
)

const (
	// TruncateThreshold is the text size above which an outbound event is
	// truncated.
	TruncateThreshold = 100 * 1024

	// FrameCeiling is the absolute bound on any outbound event's text.
	FrameCeiling = 1 << 20

	// subscriberBuffer is each subscriber's channel depth. A subscriber
	// that falls this far behind is dropped rather than allowed to stall
	// the publisher.
	subscriberBuffer = 64
)

// TruncationMarker is appended to truncated event text.
func TruncationMarker(originalLen int) string {
	return fmt.Sprintf("[Message truncated due to size constraints. Original length: %d characters]", originalLen)
}

// Subscriber is one live consumer of a session's events.
type Subscriber struct {
	sessionID string
	ch        chan *models.Event
	once      sync.Once
}

// Events returns the subscriber's event channel. It is closed when the
// subscriber is dropped or unsubscribed.
func (s *Subscriber) Events() <-chan *models.Event { return s.ch }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus is the per-session fanout. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	logger *slog.Logger

	dropObserver func(sessionID string)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDropObserver installs a callback invoked whenever a subscriber is
// dropped for falling behind. Used for metrics.
func WithDropObserver(fn func(sessionID string)) Option {
	return func(b *Bus) { b.dropObserver = fn }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string]map[*Subscriber]struct{}),
		logger: slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new consumer for a session's events.
func (b *Bus) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan *models.Event, subscriberBuffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscriber]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if set, ok := b.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber of its session.
//
// Thought responses are internal and never leave the process. Delivery is
// non-blocking: a subscriber with a full buffer is dropped on the spot, on
// the reasoning that a client that cannot keep up will resynchronize from
// stored history anyway.
func (b *Bus) Publish(ev *models.Event) {
	if ev == nil {
		return
	}
	if ev.ModelResponse != nil && ev.ModelResponse.Thought {
		return
	}

	out := TruncateForWire(ev)

	b.mu.RLock()
	var stalled []*Subscriber
	for sub := range b.subs[ev.SessionID] {
		select {
		case sub.ch <- out:
		default:
			stalled = append(stalled, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range stalled {
		b.logger.Warn("dropping stalled subscriber", "session_id", ev.SessionID)
		if b.dropObserver != nil {
			b.dropObserver(ev.SessionID)
		}
		b.Unsubscribe(sub)
	}
}

// SubscriberCount reports the live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// TruncateForWire returns the event to put on the wire: the original when
// it fits, otherwise a copy with its text cut at the threshold and the
// truncation marker appended. The frame ceiling is a hard backstop for
// degenerate payloads. The REST chat response applies the same cut.
func TruncateForWire(ev *models.Event) *models.Event {
	text := ev.Text()
	if len(text) <= TruncateThreshold {
		return ev
	}
	marker := TruncationMarker(len(text))
	cut := TruncateThreshold
	if cut+len(marker) > FrameCeiling {
		cut = FrameCeiling - len(marker)
	}
	return ev.WithText(text[:cut] + marker)
}
