// Package scheduler fires cron-style scheduled tasks as synthesized agent
// turns. The task table is the source of truth: every scan re-reads it, so
// edits through the API take effect on the next tick without a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/radbotlabs/radbot/internal/notify"
	"github.com/radbotlabs/radbot/pkg/models"
)

// DefaultScanInterval is how often the task table is polled.
const DefaultScanInterval = time.Second

// Parser accepts standard 5-field cron expressions, an optional seconds
// field, and descriptors like @hourly.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TurnRunner runs one conversational turn against a session.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error)
}

// SessionMaker provisions the synthesized sessions scheduled runs execute in.
type SessionMaker interface {
	GetOrCreate(ctx context.Context, id, userID string) (*models.Session, error)
	SetCurrentAgent(ctx context.Context, sessionID, agentName string) error
}

// Backend is the durable task table, implemented by storage.DB.
type Backend interface {
	ListScheduledTasks(ctx context.Context) ([]*models.ScheduledTask, error)
	ClaimScheduledTask(ctx context.Context, id string) (bool, error)
	SetScheduledNextRun(ctx context.Context, id string, nextRun time.Time) error
	FinishScheduledTask(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

// Scheduler owns the scan loop.
type Scheduler struct {
	backend   Backend
	sessions  SessionMaker
	runner    TurnRunner
	publisher notify.Publisher
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	onFire    func(taskID string, failed bool)

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithScanInterval overrides the poll interval.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPublisher sets the notification sink.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFireObserver registers a callback invoked after each run.
func WithFireObserver(fn func(taskID string, failed bool)) Option {
	return func(s *Scheduler) { s.onFire = fn }
}

// New creates a scheduler. Call Start to begin scanning.
func New(backend Backend, sessions SessionMaker, runner TurnRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:   backend,
		sessions:  sessions,
		runner:    runner,
		publisher: notify.NoopPublisher{},
		interval:  DefaultScanInterval,
		logger:    slog.Default().With("component", "scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scan loop. Stop cancels it and waits for in-flight
// runs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.scan(loopCtx)
			}
		}
	}()
}

// Stop shuts the loop down and waits for running tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// scan reads the table and fires every due task. Claiming happens through
// the database so two processes sharing it never double-fire, and a slow
// run never stacks a second one behind it.
func (s *Scheduler) scan(ctx context.Context) {
	tasks, err := s.backend.ListScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("list scheduled tasks", "error", err)
		return
	}
	now := s.now()

	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		schedule, err := Parser.Parse(task.CronExpression)
		if err != nil {
			s.logger.Error("bad cron expression", "task_id", task.ID, "expr", task.CronExpression, "error", err)
			continue
		}
		if task.NextRun.IsZero() {
			next := schedule.Next(now)
			if err := s.backend.SetScheduledNextRun(ctx, task.ID, next); err != nil {
				s.logger.Error("initialize next run", "task_id", task.ID, "error", err)
			}
			continue
		}
		if now.Before(task.NextRun) {
			continue
		}

		claimed, err := s.backend.ClaimScheduledTask(ctx, task.ID)
		if err != nil {
			s.logger.Error("claim scheduled task", "task_id", task.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		s.wg.Add(1)
		go func(task *models.ScheduledTask, schedule cron.Schedule) {
			defer s.wg.Done()
			s.fire(ctx, task, schedule)
		}(task, schedule)
	}
}

// fire runs one claimed task to completion. Failures are logged and
// notified at high priority; the task is never auto-disabled.
func (s *Scheduler) fire(ctx context.Context, task *models.ScheduledTask, schedule cron.Schedule) {
	started := s.now()
	s.logger.Info("scheduled task firing", "task_id", task.ID, "name", task.Name)

	summary, runErr := s.runTask(ctx, task)
	failed := runErr != nil
	if failed {
		s.logger.Error("scheduled task failed", "task_id", task.ID, "name", task.Name, "error", runErr)
		summary = fmt.Sprintf("Task failed: %v", runErr)
	}

	if err := s.publisher.Publish(ctx, notify.TaskResult(task.Name, summary, failed)); err != nil {
		s.logger.Error("publish task notification", "task_id", task.ID, "error", err)
	}

	next := schedule.Next(s.now())
	if err := s.backend.FinishScheduledTask(ctx, task.ID, started, next); err != nil {
		s.logger.Error("finish scheduled task", "task_id", task.ID, "error", err)
	}
	if s.onFire != nil {
		s.onFire(task.ID, failed)
	}
}

// runTask prepares the synthesized session and runs one turn.
func (s *Scheduler) runTask(ctx context.Context, task *models.ScheduledTask) (string, error) {
	sessionID := "scheduled:" + task.ID
	if _, err := s.sessions.GetOrCreate(ctx, sessionID, models.SystemUserID); err != nil {
		return "", fmt.Errorf("provision session: %w", err)
	}
	if task.TargetAgent != "" {
		if err := s.sessions.SetCurrentAgent(ctx, sessionID, task.TargetAgent); err != nil {
			return "", fmt.Errorf("set target agent: %w", err)
		}
	}

	final, err := s.runner.RunTurn(ctx, sessionID, task.Prompt)
	if err != nil {
		return "", err
	}
	if final != nil && final.ModelResponse != nil {
		return final.ModelResponse.Text, nil
	}
	return "Task completed.", nil
}
