package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// fakeBackend is an in-memory Backend that records calls.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	events   map[string][]*models.Event
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]*models.Session),
		events:   make(map[string][]*models.Event),
	}
}

func (f *fakeBackend) UpsertSession(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	clone := *s
	clone.Events = append([]*models.Event(nil), f.events[id]...)
	return &clone, nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	delete(f.events, id)
	return nil
}

func (f *fakeBackend) DeleteEvents(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, sessionID)
	return nil
}

func (f *fakeBackend) ListSessions(_ context.Context) ([]*models.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SessionSummary
	for id, s := range f.sessions {
		out = append(out, &models.SessionSummary{
			ID:         id,
			UserID:     s.UserID,
			EventCount: len(f.events[id]),
			CreatedAt:  s.CreatedAt,
			LastActive: s.LastActive,
		})
	}
	return out, nil
}

func (f *fakeBackend) AppendEvent(_ context.Context, ev *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.SessionID] = append(f.events[ev.SessionID], ev)
	return nil
}

func (f *fakeBackend) TouchSession(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActive = at
	}
	return nil
}

func (f *fakeBackend) storedEvents(sessionID string) []*models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Event(nil), f.events[sessionID]...)
}

// recordingPublisher captures publish order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(ev *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Event(nil), p.events...)
}

func userEvent(text string) *models.Event {
	return &models.Event{
		Type:        models.EventUserMessage,
		UserMessage: &models.UserMessagePayload{Text: text},
	}
}

func newTestStore(t *testing.T, backend Backend, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(backend, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t, newFakeBackend())

	sess, err := store.Create(context.Background(), "s1", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.CurrentAgent != "beto" {
		t.Errorf("current agent = %q, want beto", sess.CurrentAgent)
	}

	got, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "alice" {
		t.Errorf("user = %q", got.UserID)
	}

	if _, err := store.Create(context.Background(), "s1", "bob"); err == nil {
		t.Error("duplicate Create should fail")
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestStoreAppendSequencing(t *testing.T) {
	store := newTestStore(t, newFakeBackend())
	store.Create(context.Background(), "s1", "alice")

	// Concurrent appenders must still produce a dense monotonic sequence.
	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(context.Background(), "s1", userEvent("m")); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	sess, _ := store.Get(context.Background(), "s1")
	if len(sess.Events) != writers*perWriter {
		t.Fatalf("events = %d, want %d", len(sess.Events), writers*perWriter)
	}
	for i, ev := range sess.Events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event[%d].Seq = %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestStorePublishAfterStore(t *testing.T) {
	pub := &recordingPublisher{}
	store := newTestStore(t, newFakeBackend(), WithPublisher(pub))
	store.Create(context.Background(), "s1", "alice")

	ev, err := store.Append(context.Background(), "s1", userEvent("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	published := pub.all()
	if len(published) != 1 {
		t.Fatalf("published %d events, want 1", len(published))
	}
	// The published event already carries its store-assigned identity.
	if published[0].ID != ev.ID || published[0].Seq != ev.Seq {
		t.Errorf("published %+v, appended %+v", published[0], ev)
	}
}

func TestStoreLazyRehydration(t *testing.T) {
	backend := newFakeBackend()
	first := newTestStore(t, backend)
	first.Create(context.Background(), "s1", "alice")
	first.Append(context.Background(), "s1", userEvent("one"))
	first.Append(context.Background(), "s1", userEvent("two"))
	first.Close()

	// A fresh store has nothing resident and must fall back to storage.
	second, err := NewStore(backend)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer second.Close()

	sess, err := second.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get after rehydration: %v", err)
	}
	if len(sess.Events) != 2 {
		t.Fatalf("rehydrated events = %d, want 2", len(sess.Events))
	}

	// Sequence numbering continues where storage left off.
	ev, err := second.Append(context.Background(), "s1", userEvent("three"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Seq != 3 {
		t.Errorf("next seq = %d, want 3", ev.Seq)
	}
}

func TestStoreReset(t *testing.T) {
	backend := newFakeBackend()
	store := newTestStore(t, backend)
	store.Create(context.Background(), "s1", "alice")
	store.Append(context.Background(), "s1", userEvent("hello"))
	store.SetCurrentAgent(context.Background(), "s1", "scout")
	store.UpdateState(context.Background(), "s1", func(state map[string]any) {
		state["key"] = "value"
	})

	if err := store.Reset(context.Background(), "s1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	sess, _ := store.Get(context.Background(), "s1")
	if sess.CurrentAgent != "beto" {
		t.Errorf("current agent = %q, want beto", sess.CurrentAgent)
	}
	if len(sess.State) != 0 {
		t.Errorf("state = %v, want empty", sess.State)
	}
	if len(sess.Events) != 1 || sess.Events[0].System == nil || sess.Events[0].System.Kind != models.SystemReset {
		t.Fatalf("events after reset = %+v, want single reset marker", sess.Events)
	}
	if sess.Events[0].Seq != 1 {
		t.Errorf("reset event seq = %d, want 1", sess.Events[0].Seq)
	}
}

func TestStoreAsyncPersistence(t *testing.T) {
	backend := newFakeBackend()
	store := newTestStore(t, backend)
	store.Create(context.Background(), "s1", "alice")
	store.Append(context.Background(), "s1", userEvent("hello"))

	// Close drains the write queue.
	store.Close()

	stored := backend.storedEvents("s1")
	if len(stored) != 1 {
		t.Fatalf("stored events = %d, want 1", len(stored))
	}
	if stored[0].UserMessage.Text != "hello" {
		t.Errorf("stored text = %q", stored[0].UserMessage.Text)
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := newTestStore(t, newFakeBackend())
	store.Create(context.Background(), "s1", "alice")

	snap, _ := store.Get(context.Background(), "s1")
	snap.State["mutated"] = true
	snap.CurrentAgent = "hijacked"

	fresh, _ := store.Get(context.Background(), "s1")
	if _, ok := fresh.State["mutated"]; ok {
		t.Error("snapshot state mutation leaked into the store")
	}
	if fresh.CurrentAgent != "beto" {
		t.Error("snapshot agent mutation leaked into the store")
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	store := newTestStore(t, newFakeBackend())

	sess, err := store.GetOrCreate(context.Background(), "s1", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	again, err := store.GetOrCreate(context.Background(), "s1", "bob")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if again.UserID != sess.UserID {
		t.Errorf("existing session owner changed: %q", again.UserID)
	}
}
