package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radbotlabs/radbot/pkg/models"
)

// inFrame is the test-side decode of a server frame.
type inFrame struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Messages []*models.Event `json:"messages"`
}

func dialWS(t *testing.T, env *testEnv, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextFrame(t *testing.T, conn *websocket.Conn) inFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame inFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func statusOf(t *testing.T, frame inFrame) string {
	t.Helper()
	if frame.Type != "status" {
		t.Fatalf("frame type = %q, want status", frame.Type)
	}
	var s string
	if err := json.Unmarshal(frame.Content, &s); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return s
}

func eventsOf(t *testing.T, frame inFrame) []*models.Event {
	t.Helper()
	if frame.Type != "events" {
		t.Fatalf("frame type = %q, want events", frame.Type)
	}
	var events []*models.Event
	if err := json.Unmarshal(frame.Content, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	return events
}

func TestWSMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "ws-flow")

	if got := statusOf(t, nextFrame(t, conn)); got != "ready" {
		t.Fatalf("initial status = %q", got)
	}

	if err := conn.WriteJSON(map[string]string{"type": "message", "message": "hi over ws"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := statusOf(t, nextFrame(t, conn)); got != "thinking" {
		t.Fatalf("status = %q, want thinking", got)
	}

	userEvents := eventsOf(t, nextFrame(t, conn))
	if len(userEvents) != 1 || userEvents[0].UserMessage == nil || userEvents[0].UserMessage.Text != "hi over ws" {
		t.Fatalf("first events frame = %+v", userEvents)
	}
	replyEvents := eventsOf(t, nextFrame(t, conn))
	if len(replyEvents) != 1 || replyEvents[0].ModelResponse == nil || replyEvents[0].ModelResponse.Text != "hello from beto" {
		t.Fatalf("second events frame = %+v", replyEvents)
	}

	if got := statusOf(t, nextFrame(t, conn)); got != "ready" {
		t.Fatalf("final status = %q, want ready", got)
	}
}

func TestWSTurnError(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.err = errors.New("provider melted")
	env.runner.mu.Unlock()

	conn := dialWS(t, env, "ws-error")
	if got := statusOf(t, nextFrame(t, conn)); got != "ready" {
		t.Fatalf("initial status = %q", got)
	}
	if err := conn.WriteJSON(map[string]string{"type": "message", "message": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := statusOf(t, nextFrame(t, conn)); got != "thinking" {
		t.Fatalf("status = %q", got)
	}

	// The appended user message still fans out, then the error status.
	var sawError bool
	for i := 0; i < 4 && !sawError; i++ {
		frame := nextFrame(t, conn)
		if frame.Type == "status" {
			var s string
			json.Unmarshal(frame.Content, &s)
			if strings.HasPrefix(s, "error: ") && strings.Contains(s, "provider melted") {
				sawError = true
			}
		}
	}
	if !sawError {
		t.Fatal("no error status frame")
	}
}

func TestWSHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "ws-heartbeat")
	nextFrame(t, conn) // ready

	if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := nextFrame(t, conn)
	if frame.Type != "heartbeat" {
		t.Errorf("frame type = %q, want heartbeat", frame.Type)
	}
}

func TestWSHistoryAndSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.store.Create(ctx, "ws-history", "web"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	var ids []string
	for i, text := range []string{"one", "two", "three", "four"} {
		var ev *models.Event
		var err error
		if i%2 == 0 {
			ev, err = env.store.Append(ctx, "ws-history", &models.Event{
				Type:        models.EventUserMessage,
				UserMessage: &models.UserMessagePayload{Text: text},
			})
		} else {
			ev, err = env.store.Append(ctx, "ws-history", &models.Event{
				Type:          models.EventModelResponse,
				ModelResponse: &models.ModelResponsePayload{AuthorAgent: "beto", Text: text, IsFinal: true},
			})
		}
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, ev.ID)
	}

	conn := dialWS(t, env, "ws-history")
	nextFrame(t, conn) // ready

	if err := conn.WriteJSON(map[string]any{"type": "history_request", "limit": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	history := nextFrame(t, conn)
	if history.Type != "history" {
		t.Fatalf("frame type = %q, want history", history.Type)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history.Messages))
	}
	if history.Messages[0].Text() != "three" || history.Messages[1].Text() != "four" {
		t.Errorf("history tail = %q, %q", history.Messages[0].Text(), history.Messages[1].Text())
	}

	if err := conn.WriteJSON(map[string]any{"type": "sync_request", "lastMessageId": ids[1]}); err != nil {
		t.Fatalf("write: %v", err)
	}
	sync := nextFrame(t, conn)
	if sync.Type != "sync_response" {
		t.Fatalf("frame type = %q, want sync_response", sync.Type)
	}
	if len(sync.Messages) != 2 {
		t.Fatalf("sync = %d messages, want the two after the cursor", len(sync.Messages))
	}
	if sync.Messages[0].Text() != "three" {
		t.Errorf("sync starts at %q, want three", sync.Messages[0].Text())
	}

	// An unknown cursor replays everything.
	if err := conn.WriteJSON(map[string]any{"type": "sync_request", "lastMessageId": "no-such-id"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	full := nextFrame(t, conn)
	if len(full.Messages) != 4 {
		t.Errorf("full sync = %d messages, want 4", len(full.Messages))
	}
}

func TestWSResetStatus(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "ws-reset")
	nextFrame(t, conn) // ready

	if err := env.store.Reset(context.Background(), "ws-reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	events := eventsOf(t, nextFrame(t, conn))
	if len(events) != 1 || events[0].System == nil || events[0].System.Kind != models.SystemReset {
		t.Fatalf("events = %+v, want reset event", events)
	}
	if got := statusOf(t, nextFrame(t, conn)); got != "reset" {
		t.Errorf("status = %q, want reset", got)
	}
}

func TestWSUnknownFrame(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "ws-unknown")
	nextFrame(t, conn) // ready

	if err := conn.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := statusOf(t, nextFrame(t, conn))
	if !strings.HasPrefix(got, "error: ") {
		t.Errorf("status = %q, want error", got)
	}
}
