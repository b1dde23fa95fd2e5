// Package axel is the execution specialist's worker pool. A specification
// is decomposed into typed sub-tasks, executed by bounded-parallelism
// workers with per-task deadlines, and joined into one Markdown report.
package axel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/pkg/models"
)

const (
	// DefaultMaxWorkers bounds how many sub-tasks run concurrently and how
	// many the decomposer may produce.
	DefaultMaxWorkers = 3

	// DefaultTaskTimeout is the per-task execution deadline.
	DefaultTaskTimeout = 15 * time.Minute
)

// SessionSink is the slice of the session store the pool needs: progress
// events and per-task result state.
type SessionSink interface {
	Append(ctx context.Context, sessionID string, ev *models.Event) (*models.Event, error)
	UpdateState(ctx context.Context, sessionID string, fn func(state map[string]any)) error
}

// Pool decomposes and executes specifications.
type Pool struct {
	provider   agent.LLMProvider
	sink       SessionSink
	workspace  string
	model      string
	maxWorkers int
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxWorkers overrides the worker cap.
func WithMaxWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// WithTaskTimeout overrides the per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithModel pins the model used for decomposition and workers.
func WithModel(model string) Option {
	return func(p *Pool) { p.model = model }
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPool creates a worker pool. Workers operate inside workspace.
func NewPool(provider agent.LLMProvider, sink SessionSink, workspace string, opts ...Option) *Pool {
	p := &Pool{
		provider:   provider,
		sink:       sink,
		workspace:  workspace,
		maxWorkers: DefaultMaxWorkers,
		timeout:    DefaultTaskTimeout,
		logger:     slog.Default().With("component", "axel"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute decomposes spec, runs the sub-tasks, and returns the aggregated
// Markdown report. Progress events and per-task results are written to the
// session as workers finish.
func (p *Pool) Execute(ctx context.Context, sessionID, spec string) (string, error) {
	tasks, err := p.decompose(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("decompose specification: %w", err)
	}
	p.logger.Info("specification decomposed", "session_id", sessionID, "tasks", len(tasks))

	results := make([]*models.TaskResult, len(tasks))
	sem := semaphore.NewWeighted(int64(p.maxWorkers))

	// progressMu serializes the completion ordinal with its event append so
	// progress events reach the session strictly in completion order.
	var progressMu sync.Mutex
	completed := 0

	g, runCtx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			if err := sem.Acquire(runCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result := p.runWorker(runCtx, task)
			results[i] = result

			progressMu.Lock()
			completed++
			p.recordResult(ctx, sessionID, result)
			p.announceProgress(ctx, sessionID, completed, len(tasks))
			progressMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("execute tasks: %w", err)
	}

	return buildReport(tasks, results), nil
}

func (p *Pool) recordResult(ctx context.Context, sessionID string, result *models.TaskResult) {
	err := p.sink.UpdateState(ctx, sessionID, func(state map[string]any) {
		state["result:"+result.TaskID] = result
	})
	if err != nil {
		p.logger.Error("record task result", "task_id", result.TaskID, "error", err)
	}
}

func (p *Pool) announceProgress(ctx context.Context, sessionID string, k, n int) {
	_, err := p.sink.Append(ctx, sessionID, &models.Event{
		Type: models.EventSystem,
		System: &models.SystemPayload{
			Kind: models.SystemInfo,
			Text: fmt.Sprintf("Progress: %d/%d tasks completed", k, n),
		},
	})
	if err != nil {
		p.logger.Error("announce progress", "session_id", sessionID, "error", err)
	}
}
