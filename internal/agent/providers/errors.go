// Package providers implements LLM backends for the agent runtime.
//
// Each provider adapts one upstream API (Anthropic Claude, OpenAI GPT) to
// the agent.LLMProvider streaming interface: format conversion, SSE or
// chunk stream processing, tool call assembly, and retry with backoff for
// transient failures.
package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is a classified upstream failure. Status carries the HTTP
// status when known; Code carries the upstream error type.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&b, " (%s)", e.Model)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	} else {
		b.WriteString("request failed")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request %s)", e.RequestID)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is transient: rate limits, server
// errors, and network-level trouble. Auth and validation failures are not.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Status == 429:
		return true
	case e.Status >= 500 && e.Status <= 599:
		return true
	case e.Status != 0:
		return false
	}
	return transientMessage(e.Error())
}

// NewProviderError wraps a bare upstream error.
func NewProviderError(provider, model string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, Cause: cause}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// transientMessage is the string-matching fallback for errors that carry no
// structured status: rate limiting, 5xx phrases, timeouts, and connection
// failures.
func transientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isRetryable classifies any error for the retry loops.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable()
	}
	return transientMessage(err.Error())
}
