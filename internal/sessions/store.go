// Package sessions owns the in-memory session runtime.
//
// The in-memory map is authoritative while the process runs; sqlite is the
// durable mirror, written asynchronously by a single writer goroutine.
// Sessions not in memory are rehydrated lazily from storage on first
// access. Appends are serialized per session, which gives every session a
// total event order with a monotonic sequence.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/pkg/models"
)

// ErrNotFound is returned when a session exists neither in memory nor in
// storage.
var ErrNotFound = errors.New("session not found")

// persistQueueSize bounds the async write queue. A full queue applies
// backpressure to appends rather than losing events.
const persistQueueSize = 256

// Backend is the durable mirror of the store, implemented by storage.DB.
type Backend interface {
	UpsertSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteEvents(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]*models.SessionSummary, error)
	AppendEvent(ctx context.Context, ev *models.Event) error
	TouchSession(ctx context.Context, id string, at time.Time) error
}

// Publisher receives every event after the store has taken ownership of
// it. Implemented by bus.Bus.
type Publisher interface {
	Publish(ev *models.Event)
}

// noopPublisher stands in when no bus is wired, for tests and tooling.
type noopPublisher struct{}

func (noopPublisher) Publish(*models.Event) {}

// entry is one resident session. Its mutex serializes appends and state
// mutation; nextSeq is the next sequence number to assign.
type entry struct {
	mu      sync.Mutex
	sess    *models.Session
	nextSeq int64
}

// persistOp is one unit of async write work.
type persistOp struct {
	event   *models.Event
	session *models.Session
	touch   bool
	at      time.Time
}

// Store is the session runtime.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	db        Backend
	publisher Publisher
	rootAgent string
	logger    *slog.Logger
	now       func() time.Time

	writes    chan persistOp
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher wires the fanout the store publishes into.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithRootAgent sets the agent new and reset sessions start on.
func WithRootAgent(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.rootAgent = name
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow injects a clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds the runtime over a durable backend and starts the
// persistence writer.
func NewStore(db Backend, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("backend is required")
	}
	s := &Store{
		entries:   make(map[string]*entry),
		db:        db,
		publisher: noopPublisher{},
		rootAgent: "beto",
		logger:    slog.Default().With("component", "sessions"),
		now:       time.Now,
		writes:    make(chan persistOp, persistQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.persistLoop()
	return s, nil
}

// Close drains the write queue and stops the writer. Idempotent.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.writes)
		<-s.done
	})
}

func (s *Store) persistLoop() {
	defer close(s.done)
	ctx := context.Background()
	for op := range s.writes {
		if op.session != nil {
			if err := s.db.UpsertSession(ctx, op.session); err != nil {
				s.logger.Error("persist session failed", "session_id", op.session.ID, "error", err)
			}
		}
		if op.event != nil {
			if err := s.db.AppendEvent(ctx, op.event); err != nil {
				s.logger.Error("persist event failed",
					"session_id", op.event.SessionID, "seq", op.event.Seq, "error", err)
			}
		}
		if op.touch {
			if err := s.db.TouchSession(ctx, op.event.SessionID, op.at); err != nil {
				s.logger.Warn("touch session failed", "session_id", op.event.SessionID, "error", err)
			}
		}
	}
}

// Create makes a new session owned by userID. An empty id gets a fresh
// UUID. Metadata is written through synchronously so the session is
// immediately listable.
func (s *Store) Create(ctx context.Context, id, userID string) (*models.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if userID == "" {
		userID = models.SystemUserID
	}

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", id)
	}
	now := s.now()
	sess := &models.Session{
		ID:           id,
		UserID:       userID,
		CurrentAgent: s.rootAgent,
		State:        map[string]any{},
		CreatedAt:    now,
		LastActive:   now,
	}
	s.entries[id] = &entry{sess: sess, nextSeq: 1}
	s.mu.Unlock()

	if err := s.db.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	return snapshot(sess), nil
}

// GetOrCreate returns the session, creating it when it exists nowhere.
func (s *Store) GetOrCreate(ctx context.Context, id, userID string) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		sess, err = s.Create(ctx, id, userID)
		if err != nil && strings.Contains(err.Error(), "already exists") {
			// Lost a create race; the winner's session is in memory now.
			return s.Get(ctx, id)
		}
	}
	return sess, err
}

// Get returns a snapshot of the session, rehydrating from storage when it
// is not resident.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	ent, err := s.resident(ctx, id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return snapshot(ent.sess), nil
}

// resident returns the in-memory entry, loading it from storage on miss.
func (s *Store) resident(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	ent, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return ent, nil
	}

	sess, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	if sess.CurrentAgent == "" {
		sess.CurrentAgent = s.rootAgent
	}
	var next int64 = 1
	if n := len(sess.Events); n > 0 {
		next = sess.Events[n-1].Seq + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok {
		// Lost a rehydration race.
		return existing, nil
	}
	ent = &entry{sess: sess, nextSeq: next}
	s.entries[id] = ent
	return ent, nil
}

// Append takes ownership of the event: assigns identity, sequence, and
// timestamp, stores it, queues the durable write, and only then publishes
// it. Returns the completed event.
func (s *Store) Append(ctx context.Context, sessionID string, ev *models.Event) (*models.Event, error) {
	if ev == nil {
		return nil, fmt.Errorf("event is required")
	}
	ent, err := s.resident(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	now := s.now()
	ev.ID = uuid.NewString()
	ev.SessionID = sessionID
	ev.Seq = ent.nextSeq
	ev.Timestamp = now
	ent.nextSeq++
	ent.sess.Events = append(ent.sess.Events, ev)
	ent.sess.LastActive = now

	// Publish under the entry lock so subscribers observe the same total
	// order the store does.
	s.publisher.Publish(ev)
	ent.mu.Unlock()

	select {
	case s.writes <- persistOp{event: ev, touch: true, at: now}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ev, nil
}

// SetCurrentAgent moves the session's active agent.
func (s *Store) SetCurrentAgent(ctx context.Context, sessionID, agentName string) error {
	ent, err := s.resident(ctx, sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	ent.sess.CurrentAgent = agentName
	clone := snapshot(ent.sess)
	ent.mu.Unlock()

	clone.Events = nil
	select {
	case s.writes <- persistOp{session: clone}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// UpdateState applies fn to the session's state map under the session
// lock and persists the result.
func (s *Store) UpdateState(ctx context.Context, sessionID string, fn func(state map[string]any)) error {
	ent, err := s.resident(ctx, sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	fn(ent.sess.State)
	clone := snapshot(ent.sess)
	ent.mu.Unlock()

	clone.Events = nil
	select {
	case s.writes <- persistOp{session: clone}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Reset clears the session's history and state, returns it to the root
// agent, and records the reset as the first event of the new history.
// The durable event wipe is synchronous so a crash cannot resurrect the
// old history.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	ent, err := s.resident(ctx, sessionID)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	ent.sess.Events = nil
	ent.sess.State = map[string]any{}
	ent.sess.CurrentAgent = s.rootAgent
	ent.sess.LastActive = s.now()
	ent.nextSeq = 1
	clone := snapshot(ent.sess)
	ent.mu.Unlock()

	if err := s.db.DeleteEvents(ctx, sessionID); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	clone.Events = nil
	if err := s.db.UpsertSession(ctx, clone); err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}

	_, err = s.Append(ctx, sessionID, &models.Event{
		Type:   models.EventSystem,
		System: &models.SystemPayload{Kind: models.SystemReset, Text: "session reset"},
	})
	return err
}

// Delete removes the session from memory and storage.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return s.db.DeleteSession(ctx, sessionID)
}

// List returns summaries from storage, with resident sessions overlaid so
// queued writes do not make the listing lie about recency.
func (s *Store) List(ctx context.Context) ([]*models.SessionSummary, error) {
	stored, err := s.db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.SessionSummary, len(stored))
	for _, sum := range stored {
		byID[sum.ID] = sum
	}

	s.mu.RLock()
	for id, ent := range s.entries {
		ent.mu.Lock()
		sum := &models.SessionSummary{
			ID:           id,
			UserID:       ent.sess.UserID,
			CurrentAgent: ent.sess.CurrentAgent,
			EventCount:   len(ent.sess.Events),
			CreatedAt:    ent.sess.CreatedAt,
			LastActive:   ent.sess.LastActive,
		}
		ent.mu.Unlock()
		byID[id] = sum
	}
	s.mu.RUnlock()

	out := make([]*models.SessionSummary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(sums []*models.SessionSummary) {
	// Newest activity first.
	for i := 1; i < len(sums); i++ {
		for j := i; j > 0 && sums[j].LastActive.After(sums[j-1].LastActive); j-- {
			sums[j], sums[j-1] = sums[j-1], sums[j]
		}
	}
}

// snapshot deep-copies enough of the session that callers can read it
// without holding the entry lock. Events are immutable, so sharing the
// pointers is safe; the slice header and state map are copied.
func snapshot(sess *models.Session) *models.Session {
	clone := *sess
	clone.Events = append([]*models.Event(nil), sess.Events...)
	clone.State = make(map[string]any, len(sess.State))
	for k, v := range sess.State {
		clone.State[k] = v
	}
	return &clone
}
