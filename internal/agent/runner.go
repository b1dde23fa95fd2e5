package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// DefaultTurnTimeout bounds one full turn including all tool rounds.
const DefaultTurnTimeout = 120 * time.Second

// defaultMaxToolRounds caps provider round-trips within a single turn so a
// looping model cannot spin forever inside the deadline.
const defaultMaxToolRounds = 32

// SessionStore is the slice of the session runtime the runner needs.
// Append assigns the event's ID, sequence number, and timestamp, persists
// it, and fans it out, in that order.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Append(ctx context.Context, sessionID string, ev *models.Event) (*models.Event, error)
	SetCurrentAgent(ctx context.Context, sessionID, agentName string) error
}

// ModelResolver maps an agent name to the model it should run on.
type ModelResolver func(agentName string) string

// Runner drives one conversational turn at a time: user message in, events
// appended, tool calls dispatched serially, final assistant response out.
//
// A turn ends on a final text response, on a successful transfer (the
// target answers from the next user message), or on the turn deadline.
// Events always reach the session store before any subscriber sees them.
type Runner struct {
	agents   *Registry
	tools    *ToolRegistry
	transfer *TransferTool
	provider LLMProvider
	store    SessionStore

	modelFor      ModelResolver
	turnTimeout   time.Duration
	maxToolRounds int
	logger        *slog.Logger
	observer      func(agentName string, err error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTurnTimeout overrides the per-turn deadline.
func WithTurnTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.turnTimeout = d
		}
	}
}

// WithModelResolver sets the agent-to-model mapping.
func WithModelResolver(fn ModelResolver) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.modelFor = fn
		}
	}
}

// WithMaxToolRounds caps provider round-trips per turn.
func WithMaxToolRounds(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxToolRounds = n
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTurnObserver installs a callback invoked once per completed turn with
// the acting agent and terminal error, if any. Used for metrics.
func WithTurnObserver(fn func(agentName string, err error)) RunnerOption {
	return func(r *Runner) { r.observer = fn }
}

// NewRunner assembles a runner over the agent graph, tool registry, provider,
// and session store.
func NewRunner(agents *Registry, tools *ToolRegistry, provider LLMProvider, store SessionStore, opts ...RunnerOption) (*Runner, error) {
	if agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	r := &Runner{
		agents:        agents,
		tools:         tools,
		transfer:      NewTransferTool(agents),
		provider:      provider,
		store:         store,
		modelFor:      func(string) string { return "" },
		turnTimeout:   DefaultTurnTimeout,
		maxToolRounds: defaultMaxToolRounds,
		logger:        slog.Default().With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunTurn processes one user message against a session and returns the
// final event of the turn: either the assistant's closing response or the
// neutral init message of a transfer target.
func (r *Runner) RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	final, err := r.runTurn(ctx, sessionID, userText)
	if errors.Is(err, context.DeadlineExceeded) {
		// The turn context is dead; record the failure on a detached one.
		r.appendSystem(context.WithoutCancel(ctx), sessionID, models.SystemError, "turn_timeout")
		err = fmt.Errorf("turn timed out after %s: %w", r.turnTimeout, context.DeadlineExceeded)
	}
	if r.observer != nil {
		r.observer(r.currentAgent(ctx, sessionID), err)
	}
	return final, err
}

func (r *Runner) runTurn(ctx context.Context, sessionID, userText string) (*models.Event, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("user message is required")
	}

	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type:        models.EventUserMessage,
		UserMessage: &models.UserMessagePayload{Text: userText},
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	for round := 0; round < r.maxToolRounds; round++ {
		sess, err := r.store.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		agentName := sess.CurrentAgent
		if agentName == "" {
			agentName = r.agents.Root()
		}
		active, ok := r.agents.Get(agentName)
		if !ok {
			return nil, fmt.Errorf("session %s references unknown agent %s", sessionID, agentName)
		}

		req := &CompletionRequest{
			Model:    r.resolveModel(active),
			System:   active.Instruction,
			Messages: buildMessages(sess.Events),
			Tools:    append(r.tools.ToolsFor(agentName), r.transfer),
		}

		text, thinking, calls, err := r.collect(ctx, req)
		if err != nil {
			return nil, err
		}

		if thinking != "" {
			// Reasoning is recorded for the history but never surfaced;
			// the fanout drops thought events and buildMessages skips them.
			if _, err := r.store.Append(ctx, sessionID, &models.Event{
				Type: models.EventModelResponse,
				ModelResponse: &models.ModelResponsePayload{
					AuthorAgent: agentName,
					Text:        thinking,
					Thought:     true,
				},
			}); err != nil {
				return nil, fmt.Errorf("append thought: %w", err)
			}
		}

		if len(calls) == 0 {
			final, err := r.store.Append(ctx, sessionID, &models.Event{
				Type: models.EventModelResponse,
				ModelResponse: &models.ModelResponsePayload{
					AuthorAgent: agentName,
					Text:        text,
					IsFinal:     true,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("append response: %w", err)
			}
			return final, nil
		}

		if text != "" {
			if _, err := r.store.Append(ctx, sessionID, &models.Event{
				Type: models.EventModelResponse,
				ModelResponse: &models.ModelResponsePayload{
					AuthorAgent: agentName,
					Text:        text,
				},
			}); err != nil {
				return nil, fmt.Errorf("append response: %w", err)
			}
		}

		for _, call := range calls {
			transferred, final, err := r.dispatch(ctx, sessionID, agentName, call)
			if err != nil {
				return nil, err
			}
			if transferred {
				return final, nil
			}
		}
	}

	r.appendSystem(ctx, sessionID, models.SystemError, "tool_round_limit")
	return nil, fmt.Errorf("turn exceeded %d tool rounds", r.maxToolRounds)
}

// collect drains one provider stream into accumulated text, accumulated
// thinking, and the ordered tool calls.
func (r *Runner) collect(ctx context.Context, req *CompletionRequest) (string, string, []*models.ToolCall, error) {
	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", "", nil, fmt.Errorf("provider request: %w", err)
	}

	var text, thinking strings.Builder
	var calls []*models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", "", nil, fmt.Errorf("provider stream: %w", chunk.Error)
		}
		text.WriteString(chunk.Text)
		thinking.WriteString(chunk.Thinking)
		if chunk.ToolCall != nil {
			calls = append(calls, chunk.ToolCall)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", "", nil, err
	}
	return text.String(), thinking.String(), calls, nil
}

// dispatch executes one tool call and appends its events. For transfers the
// returned event is the target's neutral init message and transferred is
// true; the turn ends there.
func (r *Runner) dispatch(ctx context.Context, sessionID, agentName string, call *models.ToolCall) (transferred bool, final *models.Event, err error) {
	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type: models.EventToolCall,
		ToolCall: &models.ToolCallPayload{
			AuthorAgent: agentName,
			CallID:      call.ID,
			ToolName:    call.Name,
			Args:        call.Input,
		},
	}); err != nil {
		return false, nil, fmt.Errorf("append tool call: %w", err)
	}

	if call.Name == TransferToolName {
		return r.applyTransfer(ctx, sessionID, agentName, call)
	}

	result, invokeErr := r.tools.Invoke(WithSessionID(ctx, sessionID), agentName, call.Name, call.Input)
	response := &models.ToolResponsePayload{CallID: call.ID, ToolName: call.Name}
	switch {
	case invokeErr != nil:
		if errors.Is(invokeErr, context.DeadlineExceeded) || errors.Is(invokeErr, context.Canceled) {
			return false, nil, invokeErr
		}
		response.Error = invokeErr.Error()
		r.logger.Warn("tool dispatch failed",
			"session_id", sessionID, "agent", agentName, "tool", call.Name, "error", invokeErr)
	case result.IsError:
		response.Error = result.Content
	default:
		response.Result = result.Content
	}

	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type:         models.EventToolResponse,
		ToolResponse: response,
	}); err != nil {
		return false, nil, fmt.Errorf("append tool response: %w", err)
	}
	return false, nil, nil
}

// applyTransfer resolves a handoff request. Denials leave the active agent
// unchanged and feed the error back to the model; success updates the
// session, records the transfer, and ends the turn with the target's
// neutral init message.
func (r *Runner) applyTransfer(ctx context.Context, sessionID, from string, call *models.ToolCall) (bool, *models.Event, error) {
	target, resolveErr := r.transfer.Resolve(from, call.Input)
	if resolveErr != nil {
		if _, err := r.store.Append(ctx, sessionID, &models.Event{
			Type: models.EventToolResponse,
			ToolResponse: &models.ToolResponsePayload{
				CallID:   call.ID,
				ToolName: call.Name,
				Error:    resolveErr.Error(),
			},
		}); err != nil {
			return false, nil, fmt.Errorf("append transfer denial: %w", err)
		}
		return false, nil, nil
	}

	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type: models.EventToolResponse,
		ToolResponse: &models.ToolResponsePayload{
			CallID:   call.ID,
			ToolName: call.Name,
			Result:   TransferResult(target),
		},
	}); err != nil {
		return false, nil, fmt.Errorf("append transfer response: %w", err)
	}

	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type:          models.EventAgentTransfer,
		AgentTransfer: &models.AgentTransferPayload{FromAgent: from, ToAgent: target},
	}); err != nil {
		return false, nil, fmt.Errorf("append transfer: %w", err)
	}
	if err := r.store.SetCurrentAgent(ctx, sessionID, target); err != nil {
		return false, nil, fmt.Errorf("set current agent: %w", err)
	}
	r.logger.Info("agent transfer", "session_id", sessionID, "from", from, "to", target)

	final, err := r.store.Append(ctx, sessionID, &models.Event{
		Type: models.EventModelResponse,
		ModelResponse: &models.ModelResponsePayload{
			AuthorAgent: target,
			Text:        TransferInitMessage,
			IsFinal:     true,
		},
	})
	if err != nil {
		return false, nil, fmt.Errorf("append transfer init: %w", err)
	}
	return true, final, nil
}

func (r *Runner) appendSystem(ctx context.Context, sessionID string, kind models.SystemKind, text string) {
	if _, err := r.store.Append(ctx, sessionID, &models.Event{
		Type:   models.EventSystem,
		System: &models.SystemPayload{Kind: kind, Text: text},
	}); err != nil {
		r.logger.Error("failed to append system event",
			"session_id", sessionID, "kind", kind, "error", err)
	}
}

func (r *Runner) resolveModel(a *Agent) string {
	if a.Model != "" {
		return a.Model
	}
	return r.modelFor(a.Name)
}

func (r *Runner) currentAgent(ctx context.Context, sessionID string) string {
	sess, err := r.store.Get(context.WithoutCancel(ctx), sessionID)
	if err != nil || sess.CurrentAgent == "" {
		return r.agents.Root()
	}
	return sess.CurrentAgent
}

// buildMessages projects the session history into provider messages.
// Thought responses are redacted, transfers and system notices are runtime
// bookkeeping the model never sees.
func buildMessages(events []*models.Event) []CompletionMessage {
	var out []CompletionMessage
	for _, ev := range events {
		switch {
		case ev.UserMessage != nil:
			out = append(out, CompletionMessage{Role: "user", Content: ev.UserMessage.Text})
		case ev.ModelResponse != nil:
			if ev.ModelResponse.Thought {
				continue
			}
			out = append(out, CompletionMessage{Role: "assistant", Content: ev.ModelResponse.Text})
		case ev.ToolCall != nil:
			out = append(out, CompletionMessage{
				Role: "assistant",
				ToolCalls: []models.ToolCall{{
					ID:    ev.ToolCall.CallID,
					Name:  ev.ToolCall.ToolName,
					Input: ev.ToolCall.Args,
				}},
			})
		case ev.ToolResponse != nil:
			content := ev.ToolResponse.Result
			isError := false
			if ev.ToolResponse.Error != "" {
				content = ev.ToolResponse.Error
				isError = true
			}
			out = append(out, CompletionMessage{
				Role: "user",
				ToolResults: []models.ToolResult{{
					ToolCallID: ev.ToolResponse.CallID,
					Content:    content,
					IsError:    isError,
				}},
			})
		}
	}
	return out
}
