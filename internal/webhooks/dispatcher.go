// Package webhooks turns inbound HTTP posts into agent turns. A definition
// maps a slug to a target agent and a prompt template; placeholders in the
// template are filled from the request's JSON body.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/pkg/models"
)

// maxBodySize bounds inbound webhook payloads.
const maxBodySize = 1 << 20

// placeholderPattern matches {field} and {field.subfield} template slots.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}`)

// TurnRunner runs one conversational turn against a session.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error)
}

// SessionMaker provisions the synthesized sessions dispatches run in.
type SessionMaker interface {
	GetOrCreate(ctx context.Context, id, userID string) (*models.Session, error)
	SetCurrentAgent(ctx context.Context, sessionID, agentName string) error
}

// Backend resolves webhook definitions, implemented by storage.DB.
type Backend interface {
	GetWebhookBySlug(ctx context.Context, slug string) (*models.WebhookDefinition, error)
}

// Dispatcher handles POST /webhooks/{slug}.
type Dispatcher struct {
	backend  Backend
	sessions SessionMaker
	runner   TurnRunner
	logger   *slog.Logger

	// wg tracks async dispatches so Close can drain them.
	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(backend Backend, sessions SessionMaker, runner TurnRunner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:  backend,
		sessions: sessions,
		runner:   runner,
		logger:   slog.Default().With("component", "webhooks"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close waits for in-flight async dispatches.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// ServeHTTP dispatches one webhook. The slug is the final path element.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		http.Error(w, "webhook slug required", http.StatusNotFound)
		return
	}

	def, err := d.backend.GetWebhookBySlug(r.Context(), slug)
	if err != nil {
		http.Error(w, "unknown webhook", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// The signature covers the raw body bytes, before any JSON parsing.
	if def.Secret != "" {
		if !verifySignature(def.Secret, body, r.Header.Get("X-Signature")) {
			d.logger.Warn("webhook signature rejected", "slug", slug)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	prompt := renderTemplate(def.PromptTemplate, body)
	async := def.Async || r.URL.Query().Get("async") == "1"

	if async {
		d.wg.Add(1)
		// Detached from the request context: the caller got its 202.
		go func() {
			defer d.wg.Done()
			if _, err := d.dispatch(context.WithoutCancel(r.Context()), def, prompt); err != nil {
				d.logger.Error("async webhook dispatch", "slug", slug, "error", err)
			}
		}()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
		return
	}

	response, err := d.dispatch(r.Context(), def, prompt)
	if err != nil {
		d.logger.Error("webhook dispatch", "slug", slug, "error", err)
		http.Error(w, "dispatch failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"response": response})
}

// dispatch runs one synthesized turn for the definition.
func (d *Dispatcher) dispatch(ctx context.Context, def *models.WebhookDefinition, prompt string) (string, error) {
	sessionID := "webhook:" + def.Slug + ":" + uuid.NewString()
	if _, err := d.sessions.GetOrCreate(ctx, sessionID, models.SystemUserID); err != nil {
		return "", fmt.Errorf("provision session: %w", err)
	}
	if def.TargetAgent != "" {
		if err := d.sessions.SetCurrentAgent(ctx, sessionID, def.TargetAgent); err != nil {
			return "", fmt.Errorf("set target agent: %w", err)
		}
	}
	final, err := d.runner.RunTurn(ctx, sessionID, prompt)
	if err != nil {
		return "", err
	}
	if final != nil && final.ModelResponse != nil {
		return final.ModelResponse.Text, nil
	}
	return "", nil
}

// verifySignature compares the hex HMAC-SHA256 of body against the header
// value in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(header))))
}

// Sign computes the hex signature callers must send. Exported for clients
// and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// renderTemplate fills {field.subfield} placeholders from the JSON body.
// Unresolvable placeholders are left intact so misconfigured templates are
// visible in the resulting prompt.
func renderTemplate(template string, body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		data = nil
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := match[1 : len(match)-1]
		value, ok := lookupPath(data, strings.Split(path, "."))
		if !ok {
			return match
		}
		return value
	})
}

func lookupPath(data map[string]any, path []string) (string, bool) {
	var current any = data
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[key]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return v, true
	case nil:
		return "", true
	case float64, bool:
		return fmt.Sprintf("%v", v), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}
