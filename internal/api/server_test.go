package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/internal/bus"
	"github.com/radbotlabs/radbot/internal/credentials"
	"github.com/radbotlabs/radbot/internal/sessions"
	"github.com/radbotlabs/radbot/internal/storage"
	"github.com/radbotlabs/radbot/pkg/models"
)

// fakeRunner appends a canned turn through the real session store so events
// flow through persistence and fanout exactly as in production.
type fakeRunner struct {
	store *sessions.Store

	mu    sync.Mutex
	reply string
	err   error
	turns []string
}

func (f *fakeRunner) RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error) {
	f.mu.Lock()
	reply, err := f.reply, f.err
	f.turns = append(f.turns, sessionID+"|"+userText)
	f.mu.Unlock()

	if _, aerr := f.store.Append(ctx, sessionID, &models.Event{
		Type:        models.EventUserMessage,
		UserMessage: &models.UserMessagePayload{Text: userText},
	}); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, err
	}
	return f.store.Append(ctx, sessionID, &models.Event{
		Type: models.EventModelResponse,
		ModelResponse: &models.ModelResponsePayload{
			AuthorAgent: "beto",
			Text:        reply,
			IsFinal:     true,
		},
	})
}

type testEnv struct {
	server  *Server
	http    *httptest.Server
	runner  *fakeRunner
	store   *sessions.Store
	db      *storage.DB
	bus     *bus.Bus
	tools   *agent.ToolRegistry
	agents  *agent.Registry
	baseURL string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db, err := storage.Open("")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eventBus := bus.New()
	store, err := sessions.NewStore(db, sessions.WithPublisher(eventBus))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	agents, err := agent.NewRegistry("beto")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	for _, a := range []*agent.Agent{
		{Name: "beto", Description: "root coordinator", Instruction: "You coordinate."},
		{Name: "scout", Description: "research specialist", Instruction: "You research."},
	} {
		if err := agents.Register(a); err != nil {
			t.Fatalf("register agent: %v", err)
		}
	}
	if err := agents.Validate(); err != nil {
		t.Fatalf("validate graph: %v", err)
	}

	tools := agent.NewToolRegistry()
	runner := &fakeRunner{store: store, reply: "hello from beto"}

	srv, err := NewServer(runner, store, db, eventBus, agents, tools, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:  srv,
		http:    ts,
		runner:  runner,
		store:   store,
		db:      db,
		bus:     eventBus,
		tools:   tools,
		agents:  agents,
		baseURL: ts.URL,
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestChatCreatesSessionAndReturnsEvents(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.PostForm(env.baseURL+"/api/chat", url.Values{"message": {"hi there"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		SessionID string          `json:"session_id"`
		Response  string          `json:"response"`
		Events    []*models.Event `json:"events"`
	}
	decodeBody(t, resp, &body)

	if body.SessionID == "" {
		t.Error("session_id is empty")
	}
	if body.Response != "hello from beto" {
		t.Errorf("response = %q", body.Response)
	}
	if len(body.Events) != 2 {
		t.Fatalf("events = %d, want user message and response", len(body.Events))
	}
	if body.Events[0].Type != models.EventUserMessage || body.Events[1].Type != models.EventModelResponse {
		t.Errorf("event types = %s, %s", body.Events[0].Type, body.Events[1].Type)
	}

	// A follow-up with the session id reuses the session.
	resp2, err := http.PostForm(env.baseURL+"/api/chat",
		url.Values{"message": {"again"}, "session_id": {body.SessionID}})
	if err != nil {
		t.Fatalf("second chat: %v", err)
	}
	var body2 struct {
		SessionID string          `json:"session_id"`
		Events    []*models.Event `json:"events"`
	}
	decodeBody(t, resp2, &body2)
	if body2.SessionID != body.SessionID {
		t.Errorf("session_id changed: %q vs %q", body2.SessionID, body.SessionID)
	}
	if len(body2.Events) != 2 {
		t.Errorf("second turn events = %d, want only the new ones", len(body2.Events))
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.PostForm(env.baseURL+"/api/chat", url.Values{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatTurnFailureKeepsSessionUsable(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.err = errors.New("provider unavailable")
	env.runner.mu.Unlock()

	resp, err := http.PostForm(env.baseURL+"/api/chat",
		url.Values{"message": {"hi"}, "session_id": {"s1"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var body struct {
		Error  string          `json:"error"`
		Events []*models.Event `json:"events"`
	}
	decodeBody(t, resp, &body)
	if !strings.Contains(body.Error, "provider unavailable") {
		t.Errorf("error = %q", body.Error)
	}
	var sawError bool
	for _, ev := range body.Events {
		if ev.System != nil && ev.System.Kind == models.SystemError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no system error event in turn output")
	}

	// The session is not poisoned: the next turn succeeds.
	env.runner.mu.Lock()
	env.runner.err = nil
	env.runner.mu.Unlock()
	resp2, err := http.PostForm(env.baseURL+"/api/chat",
		url.Values{"message": {"retry"}, "session_id": {"s1"}})
	if err != nil {
		t.Fatalf("retry chat: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d, want 200", resp2.StatusCode)
	}
}

func TestChatTruncatesOversizedEvents(t *testing.T) {
	env := newTestEnv(t)
	huge := strings.Repeat("x", bus.TruncateThreshold+500)
	env.runner.mu.Lock()
	env.runner.reply = huge
	env.runner.mu.Unlock()

	resp, err := http.PostForm(env.baseURL+"/api/chat",
		url.Values{"message": {"big"}, "session_id": {"big-session"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	var body struct {
		Events []*models.Event `json:"events"`
	}
	decodeBody(t, resp, &body)
	final := body.Events[len(body.Events)-1]
	if len(final.ModelResponse.Text) >= len(huge) {
		t.Error("response event was not truncated")
	}
	if !strings.Contains(final.ModelResponse.Text, "Message truncated due to size constraints") {
		t.Error("truncation marker missing")
	}

	// The stored history keeps the full text.
	resp2 := doRequest(t, http.MethodGet, env.baseURL+"/api/sessions/big-session/events", nil)
	var dump struct {
		Events []*models.Event `json:"events"`
	}
	decodeBody(t, resp2, &dump)
	stored := dump.Events[len(dump.Events)-1]
	if len(stored.ModelResponse.Text) != len(huge) {
		t.Errorf("stored text = %d chars, want %d", len(stored.ModelResponse.Text), len(huge))
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.baseURL+"/api/sessions", map[string]string{"id": "lifecycle"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Duplicate create conflicts.
	dup := postJSON(t, env.baseURL+"/api/sessions", map[string]string{"id": "lifecycle"})
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", dup.StatusCode)
	}

	listResp := doRequest(t, http.MethodGet, env.baseURL+"/api/sessions", nil)
	var listing struct {
		Sessions []*models.SessionSummary `json:"sessions"`
	}
	decodeBody(t, listResp, &listing)
	found := false
	for _, sum := range listing.Sessions {
		if sum.ID == "lifecycle" {
			found = true
		}
	}
	if !found {
		t.Error("created session missing from listing")
	}

	resetResp := doRequest(t, http.MethodGet, env.baseURL+"/api/sessions/lifecycle/reset", nil)
	resetResp.Body.Close()
	if resetResp.StatusCode != http.StatusOK {
		t.Errorf("reset status = %d", resetResp.StatusCode)
	}
	evResp := doRequest(t, http.MethodGet, env.baseURL+"/api/sessions/lifecycle/events", nil)
	var dump struct {
		Events []*models.Event `json:"events"`
	}
	decodeBody(t, evResp, &dump)
	if len(dump.Events) != 1 || dump.Events[0].System == nil || dump.Events[0].System.Kind != models.SystemReset {
		t.Errorf("post-reset history = %+v, want single reset event", dump.Events)
	}

	delResp := doRequest(t, http.MethodDelete, env.baseURL+"/api/sessions/lifecycle", nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
	again := doRequest(t, http.MethodDelete, env.baseURL+"/api/sessions/lifecycle", nil)
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.StatusCode)
	}
}

func TestTodoCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.baseURL+"/api/tasks", map[string]any{"title": "water the plants"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var task models.TodoTask
	decodeBody(t, resp, &task)
	if task.ID == "" || task.Title != "water the plants" {
		t.Fatalf("task = %+v", task)
	}

	missing := postJSON(t, env.baseURL+"/api/tasks", map[string]any{"description": "no title"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("missing title status = %d, want 400", missing.StatusCode)
	}

	update := doRequest(t, http.MethodPut, env.baseURL+"/api/tasks/"+task.ID,
		strings.NewReader(`{"done": true}`))
	var updated models.TodoTask
	decodeBody(t, update, &updated)
	if !updated.Done {
		t.Error("task not marked done")
	}

	listResp := doRequest(t, http.MethodGet, env.baseURL+"/api/tasks", nil)
	var listing struct {
		Tasks []*models.TodoTask `json:"tasks"`
	}
	decodeBody(t, listResp, &listing)
	if len(listing.Tasks) != 1 {
		t.Errorf("tasks = %d", len(listing.Tasks))
	}

	del := doRequest(t, http.MethodDelete, env.baseURL+"/api/tasks/"+task.ID, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", del.StatusCode)
	}
	gone := doRequest(t, http.MethodDelete, env.baseURL+"/api/tasks/"+task.ID, nil)
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", gone.StatusCode)
	}
}

func TestScheduledTaskCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.baseURL+"/api/scheduler/tasks", map[string]any{
		"name":            "nightly digest",
		"cron_expression": "0 9 * * *",
		"prompt":          "summarize the day",
		"target_agent":    "scout",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var task models.ScheduledTask
	decodeBody(t, resp, &task)
	if !task.Enabled {
		t.Error("task not enabled by default")
	}
	if !task.NextRun.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next_run = %v, want future", task.NextRun)
	}

	badCron := postJSON(t, env.baseURL+"/api/scheduler/tasks", map[string]any{
		"name": "x", "cron_expression": "bogus", "prompt": "y",
	})
	badCron.Body.Close()
	if badCron.StatusCode != http.StatusBadRequest {
		t.Errorf("bad cron status = %d, want 400", badCron.StatusCode)
	}

	badAgent := postJSON(t, env.baseURL+"/api/scheduler/tasks", map[string]any{
		"name": "x", "cron_expression": "@daily", "prompt": "y", "target_agent": "nobody",
	})
	badAgent.Body.Close()
	if badAgent.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown agent status = %d, want 400", badAgent.StatusCode)
	}

	disable := doRequest(t, http.MethodPut, env.baseURL+"/api/scheduler/tasks/"+task.ID,
		strings.NewReader(`{"enabled": false}`))
	var disabled models.ScheduledTask
	decodeBody(t, disable, &disabled)
	if disabled.Enabled {
		t.Error("task still enabled after update")
	}

	del := doRequest(t, http.MethodDelete, env.baseURL+"/api/scheduler/tasks/"+task.ID, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", del.StatusCode)
	}
}

func TestWebhookDefinitions(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.baseURL+"/api/webhooks/definitions", map[string]any{
		"slug":            "ci-status",
		"target_agent":    "beto",
		"prompt_template": "CI says {state}",
		"secret":          "hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var def models.WebhookDefinition
	decodeBody(t, resp, &def)
	if def.Secret != "" {
		t.Error("secret leaked in create response")
	}

	badSlug := postJSON(t, env.baseURL+"/api/webhooks/definitions", map[string]any{
		"slug": "Bad Slug!", "prompt_template": "x",
	})
	badSlug.Body.Close()
	if badSlug.StatusCode != http.StatusBadRequest {
		t.Errorf("bad slug status = %d, want 400", badSlug.StatusCode)
	}

	listResp := doRequest(t, http.MethodGet, env.baseURL+"/api/webhooks/definitions", nil)
	var listing struct {
		Definitions []*models.WebhookDefinition `json:"definitions"`
	}
	decodeBody(t, listResp, &listing)
	if len(listing.Definitions) != 1 || listing.Definitions[0].Secret != "" {
		t.Errorf("definitions = %+v", listing.Definitions)
	}

	del := doRequest(t, http.MethodDelete, env.baseURL+"/api/webhooks/definitions/"+def.ID, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", del.StatusCode)
	}
}

// echoTool is a trivial registered tool for the listing test.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes input." }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {"text": {"type": "string"}}}`)
}
func (echoTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: string(params)}, nil
}

func TestToolsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if err := env.tools.Register("beto", echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	resp := doRequest(t, http.MethodGet, env.baseURL+"/api/tools", nil)
	var body struct {
		Agent string     `json:"agent"`
		Tools []toolView `json:"tools"`
	}
	decodeBody(t, resp, &body)
	if body.Agent != "beto" {
		t.Errorf("agent = %q, want root agent", body.Agent)
	}
	names := map[string]bool{}
	for _, tool := range body.Tools {
		names[tool.Name] = true
	}
	if !names["echo"] || !names["transfer_to_agent"] {
		t.Errorf("tools = %v", names)
	}

	// A session sitting on a specialist reports the specialist's view.
	if _, err := env.store.Create(context.Background(), "on-scout", "web"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := env.store.SetCurrentAgent(context.Background(), "on-scout", "scout"); err != nil {
		t.Fatalf("set agent: %v", err)
	}
	resp2 := doRequest(t, http.MethodGet, env.baseURL+"/api/tools?session_id=on-scout", nil)
	var body2 struct {
		Agent string     `json:"agent"`
		Tools []toolView `json:"tools"`
	}
	decodeBody(t, resp2, &body2)
	if body2.Agent != "scout" {
		t.Errorf("agent = %q, want scout", body2.Agent)
	}
	for _, tool := range body2.Tools {
		if tool.Name == "echo" {
			t.Error("beto-only tool visible to scout")
		}
	}
}

func TestAgentInfo(t *testing.T) {
	env := newTestEnv(t)
	env.server.modelFor = func(name string) string {
		if name == "beto" {
			return "claude-sonnet-4-20250514"
		}
		return "claude-3-5-haiku-latest"
	}

	resp := doRequest(t, http.MethodGet, env.baseURL+"/api/agent-info", nil)
	var body struct {
		Root   string `json:"root"`
		Agents []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"agents"`
		Tree json.RawMessage `json:"tree"`
	}
	decodeBody(t, resp, &body)
	if body.Root != "beto" {
		t.Errorf("root = %q", body.Root)
	}
	if len(body.Agents) != 2 {
		t.Fatalf("agents = %d", len(body.Agents))
	}
	for _, a := range body.Agents {
		if a.Model == "" {
			t.Errorf("agent %s has no model", a.Name)
		}
	}
	if !strings.Contains(string(body.Tree), "scout") {
		t.Errorf("tree = %s", body.Tree)
	}
}

func TestAdminPlane(t *testing.T) {
	db, err := storage.Open("")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	creds, err := credentials.NewStore("test-master-key", db)
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}

	env := newTestEnv(t, WithAdminToken("secret-token"), WithCredentials(creds))

	authed := func(method, path string, body io.Reader) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, env.baseURL+path, body)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer secret-token")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	// No token and wrong token are rejected.
	bare := doRequest(t, http.MethodGet, env.baseURL+"/admin/credentials", nil)
	bare.Body.Close()
	if bare.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", bare.StatusCode)
	}
	req, _ := http.NewRequest(http.MethodGet, env.baseURL+"/admin/credentials", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrong, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("wrong token request: %v", err)
	}
	wrong.Body.Close()
	if wrong.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", wrong.StatusCode)
	}

	// Credential round trip.
	create := authed(http.MethodPost, "/admin/credentials",
		strings.NewReader(`{"name": "jira_token", "value": "abc123", "type": "api_key"}`))
	create.Body.Close()
	if create.StatusCode != http.StatusCreated {
		t.Fatalf("create credential status = %d", create.StatusCode)
	}
	listResp := authed(http.MethodGet, "/admin/credentials", nil)
	var listing struct {
		Credentials []*credentials.Record `json:"credentials"`
	}
	decodeBody(t, listResp, &listing)
	if len(listing.Credentials) != 1 || listing.Credentials[0].Name != "jira_token" {
		t.Fatalf("credentials = %+v", listing.Credentials)
	}

	del := authed(http.MethodDelete, "/admin/credentials/jira_token", nil)
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", del.StatusCode)
	}

	stored, err := creds.List(context.Background())
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("credentials remaining = %d", len(stored))
	}
}

func TestAdminUnmountedWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	resp := doRequest(t, http.MethodGet, env.baseURL+"/admin/credentials", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when admin plane is disabled", resp.StatusCode)
	}
}

// fakeSpeech implements both speech interfaces.
type fakeSpeech struct {
	audio []byte
	text  string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	return f.audio, nil
}

func (f *fakeSpeech) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	if _, err := io.ReadAll(audio); err != nil {
		return "", err
	}
	return f.text, nil
}

func TestSpeechEndpoints(t *testing.T) {
	fake := &fakeSpeech{audio: []byte("mp3-bytes"), text: "turn on the lights"}
	env := newTestEnv(t, WithSpeech(fake, fake))

	resp := postJSON(t, env.baseURL+"/api/tts/synthesize", map[string]string{"text": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("synthesize status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q", ct)
	}
	audio, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(audio) != "mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("fake-wav"))
	mw.Close()
	sttResp, err := http.Post(env.baseURL+"/api/stt/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	var stt struct {
		Text string `json:"text"`
	}
	decodeBody(t, sttResp, &stt)
	if stt.Text != "turn on the lights" {
		t.Errorf("text = %q", stt.Text)
	}
}

func TestSpeechUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.baseURL+"/api/tts/synthesize", map[string]string{"text": "hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := doRequest(t, http.MethodGet, env.baseURL+"/healthz", nil)
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
}
