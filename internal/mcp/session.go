package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const protocolVersion = "2024-11-05"

// toolInfo describes one remote tool.
type toolInfo struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// session is one live MCP server connection. Implementations exist for
// stdio subprocesses and plain HTTP JSON-RPC endpoints.
type session interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]toolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error)
	Close() error
}

// dial opens the transport the config asks for. A command means stdio.
func dial(cfg ServerConfig) (session, error) {
	if cfg.Command != "" {
		return dialStdio(cfg)
	}
	if cfg.URL != "" {
		return newHTTPSession(cfg.URL), nil
	}
	return nil, fmt.Errorf("server %s: either command or url is required", cfg.ID)
}

// stdioSession wraps the mcp-go subprocess client.
type stdioSession struct {
	client *client.Client
}

func dialStdio(cfg ServerConfig) (session, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp subprocess: %w", err)
	}
	return &stdioSession{client: c}, nil
}

func (s *stdioSession) Initialize(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("start mcp client: %w", err)
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: "radbot", Version: "1.0.0"}
	if _, err := s.client.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	return nil
}

func (s *stdioSession) ListTools(ctx context.Context) ([]toolInfo, error) {
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]toolInfo, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil
		}
		out = append(out, toolInfo{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return out, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("call tool %s: %w", name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n"), resp.IsError, nil
}

func (s *stdioSession) Close() error {
	return s.client.Close()
}

// httpSession speaks JSON-RPC over plain HTTP, carrying the server-assigned
// session id between requests.
type httpSession struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	sessionID string
	nextID    int
}

func newHTTPSession(url string) *httpSession {
	return &httpSession{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		nextID: 1,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *httpSession) Initialize(ctx context.Context) error {
	_, err := s.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "radbot", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	return err
}

func (s *httpSession) ListTools(ctx context.Context) ([]toolInfo, error) {
	result, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	out := make([]toolInfo, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		out = append(out, toolInfo{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}
	return out, nil
}

func (s *httpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	result, err := s.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", false, err
	}
	var parsed struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", false, fmt.Errorf("parse tools/call result: %w", err)
	}
	var texts []string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n"), parsed.IsError, nil
}

func (s *httpSession) Close() error { return nil }

func (s *httpSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sessionID := s.sessionID
	s.mu.Unlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if newID := resp.Header.Get("Mcp-Session-Id"); newID != "" {
		s.mu.Lock()
		s.sessionID = newID
		s.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, payload)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var rpc rpcResponse
	if err := json.Unmarshal(data, &rpc); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, rpc.Error.Code, rpc.Error.Message)
	}
	return rpc.Result, nil
}
