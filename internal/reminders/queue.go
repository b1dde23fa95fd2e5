// Package reminders delivers one-shot reminders as synthesized agent
// turns. A min-heap keyed by fire time feeds a single owner goroutine;
// adds and cancels arrive over a command channel so the heap never needs
// a lock. Rows are durable and rehydrated at boot.
package reminders

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/internal/notify"
	"github.com/radbotlabs/radbot/pkg/models"
)

// maxSleep caps how long the owner goroutine sleeps between wakeups, so a
// clock jump or a stale timer never delays a fire by more than a second.
const maxSleep = time.Second

// TurnRunner runs one conversational turn against a session.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error)
}

// SessionMaker provisions the synthesized sessions reminders fire in.
type SessionMaker interface {
	GetOrCreate(ctx context.Context, id, userID string) (*models.Session, error)
	SetCurrentAgent(ctx context.Context, sessionID, agentName string) error
}

// Backend is the durable reminder table, implemented by storage.DB.
type Backend interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error
	ListPendingReminders(ctx context.Context) ([]*models.Reminder, error)
	MarkReminderDelivered(ctx context.Context, id string) error
	DeleteReminder(ctx context.Context, id string) error
}

// reminderHeap orders pending reminders by fire time.
type reminderHeap []*models.Reminder

func (h reminderHeap) Len() int           { return len(h) }
func (h reminderHeap) Less(i, j int) bool { return h[i].FireAt.Before(h[j].FireAt) }
func (h reminderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *reminderHeap) Push(x any)        { *h = append(*h, x.(*models.Reminder)) }
func (h *reminderHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type command struct {
	add    *models.Reminder
	cancel string
}

// Queue owns the reminder heap and its delivery loop.
type Queue struct {
	backend   Backend
	sessions  SessionMaker
	runner    TurnRunner
	publisher notify.Publisher
	logger    *slog.Logger
	now       func() time.Time

	commands chan command
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithPublisher sets the notification sink.
func WithPublisher(p notify.Publisher) Option {
	return func(q *Queue) {
		if p != nil {
			q.publisher = p
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue creates a reminder queue. Call Start to begin delivering.
func NewQueue(backend Backend, sessions SessionMaker, runner TurnRunner, opts ...Option) *Queue {
	q := &Queue{
		backend:   backend,
		sessions:  sessions,
		runner:    runner,
		publisher: notify.NoopPublisher{},
		logger:    slog.Default().With("component", "reminders"),
		now:       time.Now,
		commands:  make(chan command, 16),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start rehydrates pending reminders from the database and launches the
// owner goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return nil
	}

	pending, err := q.backend.ListPendingReminders(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate reminders: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(loopCtx, pending)

	q.logger.Info("reminder queue started", "pending", len(pending))
	return nil
}

// Stop shuts the loop down and waits for an in-flight delivery.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Add persists the reminder and hands it to the owner goroutine. An empty
// ID is assigned.
func (q *Queue) Add(ctx context.Context, r *models.Reminder) (*models.Reminder, error) {
	if r.FireAt.IsZero() {
		return nil, fmt.Errorf("fire_at is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = q.now()
	}
	if err := q.backend.CreateReminder(ctx, r); err != nil {
		return nil, err
	}

	select {
	case q.commands <- command{add: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r, nil
}

// Cancel removes a pending reminder from the heap and the database.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	if err := q.backend.DeleteReminder(ctx, id); err != nil {
		return err
	}
	select {
	case q.commands <- command{cancel: id}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// run is the single owner of the heap. It sleeps until the next fire time
// (bounded by maxSleep) and wakes early for commands.
func (q *Queue) run(ctx context.Context, pending []*models.Reminder) {
	defer q.wg.Done()

	h := make(reminderHeap, 0, len(pending))
	for _, r := range pending {
		h = append(h, r)
	}
	heap.Init(&h)

	timer := time.NewTimer(maxSleep)
	defer timer.Stop()

	for {
		sleep := maxSleep
		if h.Len() > 0 {
			until := h[0].FireAt.Sub(q.now())
			if until < sleep {
				sleep = until
			}
			if sleep < 0 {
				sleep = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			return
		case cmd := <-q.commands:
			if cmd.add != nil {
				heap.Push(&h, cmd.add)
			}
			if cmd.cancel != "" {
				removeByID(&h, cmd.cancel)
			}
		case <-timer.C:
			for h.Len() > 0 && !h[0].FireAt.After(q.now()) {
				r := heap.Pop(&h).(*models.Reminder)
				q.deliver(ctx, r)
			}
		}
	}
}

func removeByID(h *reminderHeap, id string) {
	for i, r := range *h {
		if r.ID == id {
			heap.Remove(h, i)
			return
		}
	}
}

// deliver fires one reminder. The delivered flag flips regardless of turn
// outcome: reminders are one-shot and a failing provider must not cause a
// refire loop.
func (q *Queue) deliver(ctx context.Context, r *models.Reminder) {
	q.logger.Info("reminder firing", "reminder_id", r.ID)

	sessionID := "reminder:" + r.ID
	failed := false
	summary := ""
	if _, err := q.sessions.GetOrCreate(ctx, sessionID, models.SystemUserID); err != nil {
		q.logger.Error("provision reminder session", "reminder_id", r.ID, "error", err)
		failed = true
	} else {
		if r.TargetAgent != "" {
			if err := q.sessions.SetCurrentAgent(ctx, sessionID, r.TargetAgent); err != nil {
				q.logger.Error("set reminder agent", "reminder_id", r.ID, "error", err)
			}
		}
		final, err := q.runner.RunTurn(ctx, sessionID, r.Prompt)
		if err != nil {
			q.logger.Error("reminder turn failed", "reminder_id", r.ID, "error", err)
			failed = true
			summary = fmt.Sprintf("Reminder failed: %v", err)
		} else if final != nil && final.ModelResponse != nil {
			summary = final.ModelResponse.Text
		}
	}
	if summary == "" {
		summary = r.Prompt
	}

	if err := q.publisher.Publish(ctx, notify.TaskResult("Reminder", summary, failed)); err != nil {
		q.logger.Error("publish reminder notification", "reminder_id", r.ID, "error", err)
	}
	if err := q.backend.MarkReminderDelivered(ctx, r.ID); err != nil {
		q.logger.Error("mark reminder delivered", "reminder_id", r.ID, "error", err)
	}
}
