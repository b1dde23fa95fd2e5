package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// scriptedResponse is one provider round: streamed text, optional thinking,
// and tool calls emitted after the text.
type scriptedResponse struct {
	text     string
	thinking string
	calls    []*models.ToolCall
	err      error
}

// scriptedProvider replays a fixed sequence of responses, one per Complete
// call, and records every request it sees.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []*CompletionRequest
	block     bool
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 && !p.block {
		p.mu.Unlock()
		return nil, errors.New("scripted provider exhausted")
	}
	var resp scriptedResponse
	if len(p.responses) > 0 {
		resp = p.responses[0]
		p.responses = p.responses[1:]
	}
	block := p.block
	p.mu.Unlock()

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		if block {
			<-ctx.Done()
			chunks <- &CompletionChunk{Error: ctx.Err()}
			return
		}
		if resp.err != nil {
			chunks <- &CompletionChunk{Error: resp.err}
			return
		}
		if resp.thinking != "" {
			chunks <- &CompletionChunk{Thinking: resp.thinking}
		}
		if resp.text != "" {
			chunks <- &CompletionChunk{Text: resp.text}
		}
		for _, call := range resp.calls {
			chunks <- &CompletionChunk{ToolCall: call}
		}
		chunks <- &CompletionChunk{Done: true}
	}()
	return chunks, nil
}

// memStore is a minimal in-memory SessionStore for runner tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	seq      map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*models.Session),
		seq:      make(map[string]int64),
	}
}

func (s *memStore) session(id string) *models.Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &models.Session{ID: id, UserID: "tester", State: map[string]any{}}
		s.sessions[id] = sess
	}
	return sess
}

func (s *memStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(id)
	clone := *sess
	clone.Events = append([]*models.Event(nil), sess.Events...)
	return &clone, nil
}

func (s *memStore) Append(_ context.Context, sessionID string, ev *models.Event) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(sessionID)
	s.seq[sessionID]++
	ev.SessionID = sessionID
	ev.Seq = s.seq[sessionID]
	ev.ID = fmt.Sprintf("ev-%d", ev.Seq)
	ev.Timestamp = time.Now()
	sess.Events = append(sess.Events, ev)
	return ev, nil
}

func (s *memStore) SetCurrentAgent(_ context.Context, sessionID, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).CurrentAgent = agentName
	return nil
}

func newTestRunner(t *testing.T, provider LLMProvider, store SessionStore, opts ...RunnerOption) *Runner {
	t.Helper()
	agents := newTestRegistry(t)
	tools := NewToolRegistry(WithToolTimeout(time.Second))
	tools.Register("beto", &fakeTool{
		name:   "echo",
		schema: echoSchema,
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			var args struct {
				Text string `json:"text"`
			}
			json.Unmarshal(params, &args)
			return &ToolResult{Content: "echo: " + args.Text}, nil
		},
	})
	runner, err := NewRunner(agents, tools, provider, store, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func eventTypes(events []*models.Event) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunnerFinalResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "Hello there."},
	}}
	store := newMemStore()
	runner := newTestRunner(t, provider, store)

	final, err := runner.RunTurn(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if final.ModelResponse == nil || !final.ModelResponse.IsFinal {
		t.Fatalf("final event = %+v, want final model response", final)
	}
	if final.ModelResponse.Text != "Hello there." {
		t.Errorf("final text = %q", final.ModelResponse.Text)
	}
	if final.ModelResponse.AuthorAgent != "beto" {
		t.Errorf("author = %q, want beto", final.ModelResponse.AuthorAgent)
	}

	sess, _ := store.Get(context.Background(), "s1")
	want := []models.EventType{models.EventUserMessage, models.EventModelResponse}
	got := eventTypes(sess.Events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRunnerToolRound(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{calls: []*models.ToolCall{{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text": "ping"}`)}}},
		{text: "The tool said: echo: ping"},
	}}
	store := newMemStore()
	runner := newTestRunner(t, provider, store)

	final, err := runner.RunTurn(context.Background(), "s1", "run the tool")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !strings.Contains(final.ModelResponse.Text, "echo: ping") {
		t.Errorf("final text = %q", final.ModelResponse.Text)
	}

	sess, _ := store.Get(context.Background(), "s1")
	want := []models.EventType{
		models.EventUserMessage,
		models.EventToolCall,
		models.EventToolResponse,
		models.EventModelResponse,
	}
	got := eventTypes(sess.Events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// The second provider request must include the tool result.
	second := provider.requests[1]
	var sawResult bool
	for _, msg := range second.Messages {
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == "c1" && tr.Content == "echo: ping" {
				sawResult = true
			}
		}
	}
	if !sawResult {
		t.Error("second request missing tool result for c1")
	}
}

func TestRunnerToolErrorFeedsModel(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{calls: []*models.ToolCall{{ID: "c1", Name: "missing", Input: json.RawMessage(`{}`)}}},
		{text: "Sorry, that tool is unavailable."},
	}}
	store := newMemStore()
	runner := newTestRunner(t, provider, store)

	if _, err := runner.RunTurn(context.Background(), "s1", "go"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	sess, _ := store.Get(context.Background(), "s1")
	var response *models.ToolResponsePayload
	for _, ev := range sess.Events {
		if ev.ToolResponse != nil {
			response = ev.ToolResponse
		}
	}
	if response == nil || response.Error == "" {
		t.Fatalf("expected tool response error event, got %+v", response)
	}
	if !strings.Contains(response.Error, string(ToolErrUnknown)) {
		t.Errorf("error = %q, want code %s", response.Error, ToolErrUnknown)
	}
}

func TestRunnerTransfer(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{calls: []*models.ToolCall{{
			ID:    "c1",
			Name:  TransferToolName,
			Input: json.RawMessage(`{"agent_name": "scout"}`),
		}}},
	}}
	store := newMemStore()
	runner := newTestRunner(t, provider, store)

	final, err := runner.RunTurn(context.Background(), "s1", "ask scout")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if final.ModelResponse.Text != TransferInitMessage {
		t.Errorf("final text = %q, want neutral init message", final.ModelResponse.Text)
	}
	if final.ModelResponse.AuthorAgent != "scout" {
		t.Errorf("author = %q, want scout", final.ModelResponse.AuthorAgent)
	}

	sess, _ := store.Get(context.Background(), "s1")
	if sess.CurrentAgent != "scout" {
		t.Errorf("current agent = %q, want scout", sess.CurrentAgent)
	}

	var sawTransfer bool
	for _, ev := range sess.Events {
		if ev.AgentTransfer != nil {
			sawTransfer = true
			if ev.AgentTransfer.FromAgent != "beto" || ev.AgentTransfer.ToAgent != "scout" {
				t.Errorf("transfer = %+v", ev.AgentTransfer)
			}
		}
	}
	if !sawTransfer {
		t.Error("missing agent_transfer event")
	}

	// Only one provider round: the turn ends on the transfer.
	if len(provider.requests) != 1 {
		t.Errorf("provider rounds = %d, want 1", len(provider.requests))
	}
}

func TestRunnerTransferDenied(t *testing.T) {
	// scout may not reach axel directly; denial feeds back to the model
	// which then answers normally.
	provider := &scriptedProvider{responses: []scriptedResponse{
		{calls: []*models.ToolCall{{
			ID:    "c1",
			Name:  TransferToolName,
			Input: json.RawMessage(`{"agent_name": "axel"}`),
		}}},
		{text: "I cannot hand this off."},
	}}
	store := newMemStore()
	store.SetCurrentAgent(context.Background(), "s1", "scout")
	runner := newTestRunner(t, provider, store)

	final, err := runner.RunTurn(context.Background(), "s1", "delegate")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if final.ModelResponse.Text != "I cannot hand this off." {
		t.Errorf("final text = %q", final.ModelResponse.Text)
	}

	sess, _ := store.Get(context.Background(), "s1")
	if sess.CurrentAgent != "scout" {
		t.Errorf("current agent = %q, want scout unchanged", sess.CurrentAgent)
	}
	var denial *models.ToolResponsePayload
	for _, ev := range sess.Events {
		if ev.ToolResponse != nil {
			denial = ev.ToolResponse
		}
	}
	if denial == nil || !strings.Contains(denial.Error, string(ToolErrTransferDenied)) {
		t.Fatalf("denial = %+v, want transfer_denied error", denial)
	}
}

func TestRunnerThoughtRedaction(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{thinking: "secret reasoning", text: "public answer"},
		{text: "second answer"},
	}}
	store := newMemStore()
	runner := newTestRunner(t, provider, store)

	if _, err := runner.RunTurn(context.Background(), "s1", "one"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	sess, _ := store.Get(context.Background(), "s1")
	var sawThought bool
	for _, ev := range sess.Events {
		if ev.ModelResponse != nil && ev.ModelResponse.Thought {
			sawThought = true
		}
	}
	if !sawThought {
		t.Fatal("thought event not recorded in history")
	}

	// The next turn's provider request must not contain the thought text.
	if _, err := runner.RunTurn(context.Background(), "s1", "two"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	second := provider.requests[1]
	for _, msg := range second.Messages {
		if strings.Contains(msg.Content, "secret reasoning") {
			t.Error("thought text leaked into provider request")
		}
	}
}

func TestRunnerTurnTimeout(t *testing.T) {
	provider := &scriptedProvider{block: true}
	store := newMemStore()
	runner := newTestRunner(t, provider, store, WithTurnTimeout(50*time.Millisecond))

	_, err := runner.RunTurn(context.Background(), "s1", "hang")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunTurn error = %v, want deadline exceeded", err)
	}

	sess, _ := store.Get(context.Background(), "s1")
	last := sess.Events[len(sess.Events)-1]
	if last.System == nil || last.System.Kind != models.SystemError || last.System.Text != "turn_timeout" {
		t.Errorf("last event = %+v, want system turn_timeout", last)
	}
}

func TestRunnerEmptyUserMessage(t *testing.T) {
	runner := newTestRunner(t, &scriptedProvider{}, newMemStore())
	if _, err := runner.RunTurn(context.Background(), "s1", "  "); err == nil {
		t.Fatal("expected error for blank user message")
	}
}

func TestRunnerInjectsTransferTool(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{text: "ok"}}}
	runner := newTestRunner(t, provider, newMemStore())

	if _, err := runner.RunTurn(context.Background(), "s1", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	req := provider.requests[0]
	var found bool
	for _, tool := range req.Tools {
		if tool.Name() == TransferToolName {
			found = true
		}
	}
	if !found {
		t.Error("transfer_to_agent not offered to the model")
	}
}
