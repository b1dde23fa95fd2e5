// Package notify publishes push notifications through an ntfy topic.
// Scheduled task runs use it to report completions and failures without
// the user keeping a client connected.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxBodyLength caps notification bodies. ntfy rejects oversized messages,
// so long task output is clipped before sending.
const maxBodyLength = 2000

// Priority is the ntfy priority header value.
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// Notification is one outbound push message.
type Notification struct {
	Title    string
	Body     string
	Priority Priority
	Tags     []string
}

// Publisher posts notifications. Subsystems hold the interface so tests can
// swap in a recorder.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NoopPublisher discards notifications. Used when no ntfy topic is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Notification) error { return nil }

// NtfyPublisher posts to a single ntfy topic over HTTP.
type NtfyPublisher struct {
	server string
	topic  string
	client *http.Client
	logger *slog.Logger
}

// Option configures an NtfyPublisher.
type Option func(*NtfyPublisher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *NtfyPublisher) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *NtfyPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewNtfyPublisher creates a publisher for the given server and topic.
func NewNtfyPublisher(server, topic string, opts ...Option) (*NtfyPublisher, error) {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	topic = strings.TrimSpace(topic)
	if server == "" {
		return nil, fmt.Errorf("ntfy server is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("ntfy topic is required")
	}
	p := &NtfyPublisher{
		server: server,
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "notify"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish posts the notification to {server}/{topic}. The body is clipped
// to the ntfy message limit before sending.
func (p *NtfyPublisher) Publish(ctx context.Context, n Notification) error {
	body := n.Body
	if len(body) > maxBodyLength {
		body = body[:maxBodyLength]
	}

	url := p.server + "/" + p.topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	if n.Title != "" {
		req.Header.Set("Title", n.Title)
	}
	priority := n.Priority
	if priority == "" {
		priority = PriorityDefault
	}
	req.Header.Set("Priority", string(priority))
	if len(n.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(n.Tags, ","))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification rejected: status %d", resp.StatusCode)
	}
	p.logger.Debug("notification published", "title", n.Title, "priority", priority)
	return nil
}

// TaskResult builds the notification for a finished scheduled task. Failures
// go out at high priority so they surface on the user's device.
func TaskResult(taskName, summary string, failed bool) Notification {
	n := Notification{
		Title:    "RadBot: " + taskName,
		Body:     summary,
		Priority: PriorityDefault,
		Tags:     []string{"robot"},
	}
	if failed {
		n.Priority = PriorityHigh
		n.Tags = []string{"warning"}
	}
	return n
}
