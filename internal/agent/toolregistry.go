package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool argument JSON (10MB).
	MaxToolParamsSize = 10 << 20

	// DefaultToolTimeout bounds a single tool execution when the caller's
	// context carries no earlier deadline.
	DefaultToolTimeout = 30 * time.Second
)

// ErrDuplicateTool is returned when a tool name is already registered for
// the same agent.
var ErrDuplicateTool = errors.New("tool already registered")

// registeredTool binds a tool to its compiled schema and origin.
type registeredTool struct {
	tool   Tool
	source string
	schema *jsonschema.Schema
}

// ToolRegistry holds per-agent ordered tool lists with thread-safe
// registration, lookup, and dispatch.
//
// Dispatch validates arguments against the tool's JSON Schema before
// execution and bounds execution time so a stuck tool cannot wedge a turn.
// Tools registered from an external source (an MCP server) can be pruned as
// a group; pruned sources are tombstoned so late calls fail closed instead
// of resolving to nothing.
type ToolRegistry struct {
	mu       sync.RWMutex
	byAgent  map[string][]*registeredTool
	pruned   map[string]bool
	timeout  time.Duration
	logger   *slog.Logger
	observer func(tool string, code ToolErrorCode)
}

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolTimeout overrides the per-call execution bound.
func WithToolTimeout(d time.Duration) ToolRegistryOption {
	return func(r *ToolRegistry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithToolLogger sets the registry logger.
func WithToolLogger(logger *slog.Logger) ToolRegistryOption {
	return func(r *ToolRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithToolObserver installs a callback invoked once per dispatch with the
// outcome code (empty code means success). Used for metrics.
func WithToolObserver(fn func(tool string, code ToolErrorCode)) ToolRegistryOption {
	return func(r *ToolRegistry) { r.observer = fn }
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...ToolRegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		byAgent: make(map[string][]*registeredTool),
		pruned:  make(map[string]bool),
		timeout: DefaultToolTimeout,
		logger:  slog.Default().With("component", "tool_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to an agent's list, preserving registration order.
// Returns ErrDuplicateTool if the agent already has a tool with that name.
func (r *ToolRegistry) Register(agentName string, tool Tool) error {
	return r.RegisterFromSource(agentName, tool, "")
}

// RegisterFromSource registers a tool tagged with its origin. Tools from the
// same source can later be removed together with PruneSource.
func (r *ToolRegistry) RegisterFromSource(agentName string, tool Tool, source string) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if name == TransferToolName {
		return fmt.Errorf("tool name %s is reserved for the runner", TransferToolName)
	}

	var schema *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiled, err := compileSchema(name, raw)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.byAgent[agentName] {
		if rt.tool.Name() == name {
			return fmt.Errorf("%w: %s for agent %s", ErrDuplicateTool, name, agentName)
		}
	}
	r.byAgent[agentName] = append(r.byAgent[agentName], &registeredTool{
		tool:   tool,
		source: source,
		schema: schema,
	})
	return nil
}

// Unregister removes a tool from an agent's list. Removing a tool that was
// never registered is a no-op.
func (r *ToolRegistry) Unregister(agentName, toolName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byAgent[agentName]
	for i, rt := range list {
		if rt.tool.Name() == toolName {
			r.byAgent[agentName] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ToolsFor returns the agent's tools in registration order. The returned
// slice is a copy and safe to hold across registry mutations.
func (r *ToolRegistry) ToolsFor(agentName string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byAgent[agentName]
	out := make([]Tool, 0, len(list))
	for _, rt := range list {
		out = append(out, rt.tool)
	}
	return out
}

// PruneSource removes every tool registered from the given source, across
// all agents, and tombstones the source. In-flight executions run to
// completion; subsequent dispatches to a pruned tool fail with Disabled.
func (r *ToolRegistry) PruneSource(source string) int {
	if source == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for agentName, list := range r.byAgent {
		kept := list[:0]
		for _, rt := range list {
			if rt.source == source {
				removed++
				continue
			}
			kept = append(kept, rt)
		}
		r.byAgent[agentName] = kept
	}
	r.pruned[source] = true
	if removed > 0 {
		r.logger.Info("pruned tool source", "source", source, "removed", removed)
	}
	return removed
}

// RestoreSource clears a source tombstone so its tools can register again.
func (r *ToolRegistry) RestoreSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pruned, source)
}

// Invoke dispatches a tool call for an agent.
//
// Arguments are validated against the tool's schema before execution;
// invalid arguments produce a BadArgs error without running the tool.
// Execution is bounded by the caller's deadline when it has one, and by
// the registry timeout otherwise. Dispatch failures are returned as
// *ToolError so callers can surface the code to the model.
func (r *ToolRegistry) Invoke(ctx context.Context, agentName, toolName string, args json.RawMessage) (*ToolResult, error) {
	if len(args) > MaxToolParamsSize {
		return nil, r.fail(NewToolError(ToolErrBadArgs, toolName,
			"arguments exceed maximum size of %d bytes", MaxToolParamsSize))
	}

	r.mu.RLock()
	var found *registeredTool
	for _, rt := range r.byAgent[agentName] {
		if rt.tool.Name() == toolName {
			found = rt
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		if r.isPruned(toolName) {
			return nil, r.fail(NewToolError(ToolErrDisabled, toolName, "tool source has been disabled"))
		}
		return nil, r.fail(NewToolError(ToolErrUnknown, toolName, "tool not registered for agent %s", agentName))
	}
	if found.source != "" && r.sourcePruned(found.source) {
		return nil, r.fail(NewToolError(ToolErrDisabled, toolName, "tool source has been disabled"))
	}

	if found.schema != nil {
		if err := validateArgs(found.schema, args); err != nil {
			return nil, r.fail(NewToolError(ToolErrBadArgs, toolName, "invalid arguments: %v", err))
		}
	}

	// The inner timeout bounds execution only when the caller's context
	// carries no deadline. A caller deadline is the sole bound otherwise,
	// so a context-honoring tool can use the full turn budget.
	execCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result, err := r.execute(execCtx, found.tool, args)
	switch {
	case ctx.Err() != nil:
		// The caller's context died first; propagate instead of
		// reporting a tool timeout.
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil, r.fail(NewToolError(ToolErrTimeout, toolName, "execution exceeded %s", r.timeout))
	case err != nil:
		var te *ToolError
		if errors.As(err, &te) {
			return nil, r.fail(te)
		}
		return nil, r.fail(NewToolError(ToolErrUpstream, toolName, "%v", err))
	}
	if r.observer != nil {
		r.observer(toolName, "")
	}
	return result, nil
}

// execute runs the tool on its own goroutine so that tools which ignore
// their context still respect the deadline.
func (r *ToolRegistry) execute(ctx context.Context, tool Tool, args json.RawMessage) (*ToolResult, error) {
	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Execute(ctx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func (r *ToolRegistry) fail(err *ToolError) *ToolError {
	if r.observer != nil {
		r.observer(err.Tool, err.Code)
	}
	return err
}

func (r *ToolRegistry) sourcePruned(source string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pruned[source]
}

// isPruned reports whether any pruned source could have owned toolName.
// Unknown tools with a pruned namespace prefix fail Disabled, not Unknown.
func (r *ToolRegistry) isPruned(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for source := range r.pruned {
		if strings.HasPrefix(toolName, source+"_") || strings.HasPrefix(toolName, source+":") {
			return true
		}
	}
	return false
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "radbot://tools/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}
