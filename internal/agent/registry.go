package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Agent is one node in the agent graph.
//
// Instruction is the system prompt. TransferTargets lists the extra edges
// this agent may transfer to beyond the defaults: the root can always reach
// every agent, and every specialist can always return to the root.
type Agent struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Instruction     string   `json:"-"`
	Model           string   `json:"model,omitempty"`
	TransferTargets []string `json:"transfer_targets,omitempty"`
}

// Registry holds the agent graph rooted at a single coordinator.
//
// Registration is expected to happen in one boot batch; Validate checks the
// closed set once all agents are in. After Validate the graph is effectively
// immutable, so reads take the read lock only for consistency with the
// registration path.
type Registry struct {
	mu     sync.RWMutex
	root   string
	agents map[string]*Agent
	order  []string
}

// NewRegistry creates a registry whose coordinator is rootName. The root
// agent itself must still be registered like any other node.
func NewRegistry(rootName string) (*Registry, error) {
	rootName = strings.TrimSpace(rootName)
	if rootName == "" {
		return nil, fmt.Errorf("root agent name is required")
	}
	return &Registry{
		root:   rootName,
		agents: make(map[string]*Agent),
	}, nil
}

// Root returns the coordinator agent's name.
func (r *Registry) Root() string {
	return r.root
}

// Register adds an agent to the graph. Specialist instructions get the
// mandatory return clause appended so every delegation path terminates back
// at the coordinator. Duplicate names are rejected.
func (r *Registry) Register(a *Agent) error {
	if a == nil {
		return fmt.Errorf("agent is required")
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(a.Instruction) == "" {
		return fmt.Errorf("agent %s: instruction is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %s already registered", name)
	}

	reg := *a
	reg.Name = name
	if name != r.root {
		reg.Instruction = reg.Instruction + "\n\n" + returnClause(r.root)
	}
	r.agents[name] = &reg
	r.order = append(r.order, name)
	return nil
}

// returnClause is appended to every non-root instruction so specialists
// always know how to hand control back.
func returnClause(root string) string {
	return fmt.Sprintf(
		"When your task is complete, or you cannot make further progress, you must call transfer_to_agent with agent_name %q to return control to the coordinator.",
		root)
}

// Validate checks the assembled graph: the root must exist and every
// declared transfer target must resolve to a registered agent. Call once
// after the boot registration batch.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.agents[r.root]; !ok {
		return fmt.Errorf("root agent %s is not registered", r.root)
	}
	for _, name := range r.order {
		for _, target := range r.agents[name].TransferTargets {
			if target == name {
				return fmt.Errorf("agent %s declares a transfer edge to itself", name)
			}
			if _, ok := r.agents[target]; !ok {
				return fmt.Errorf("agent %s declares unknown transfer target %s", name, target)
			}
		}
	}
	return nil
}

// Get returns a registered agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns all agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Targets returns the set of agents name may transfer to: the root reaches
// everyone, specialists reach the root plus their declared extras.
func (r *Registry) Targets(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil
	}

	seen := map[string]bool{name: true}
	var out []string
	add := func(target string) {
		if !seen[target] {
			seen[target] = true
			out = append(out, target)
		}
	}

	if name == r.root {
		for _, other := range r.order {
			add(other)
		}
	} else {
		add(r.root)
		for _, target := range a.TransferTargets {
			add(target)
		}
	}
	sort.Strings(out)
	return out
}

// CanTransfer reports whether from may hand control to to.
func (r *Registry) CanTransfer(from, to string) bool {
	for _, target := range r.Targets(from) {
		if target == to {
			return true
		}
	}
	return false
}

// Find locates an agent reachable from the root by breadth-first search
// over transfer edges. A registered agent with no inbound path returns
// false; the visited set makes cycles safe.
func (r *Registry) Find(name string) (*Agent, bool) {
	r.mu.RLock()
	target, registered := r.agents[name]
	r.mu.RUnlock()
	if !registered {
		return nil, false
	}
	if name == r.root {
		return target, true
	}

	visited := map[string]bool{r.root: true}
	queue := []string{r.root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range r.Targets(current) {
			if next == name {
				return target, true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return nil, false
}

// treeNode is the admin view of one graph node.
type treeNode struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Model       string     `json:"model,omitempty"`
	SubAgents   []treeNode `json:"sub_agents,omitempty"`
}

// Tree renders the graph as nested JSON rooted at the coordinator, for the
// admin surface. Each agent appears once, at its shallowest depth.
func (r *Registry) Tree() (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.agents[r.root]; !ok {
		return nil, fmt.Errorf("root agent %s is not registered", r.root)
	}
	visited := map[string]bool{r.root: true}
	root := r.buildNode(r.root, visited)
	return json.Marshal(root)
}

func (r *Registry) buildNode(name string, visited map[string]bool) treeNode {
	a := r.agents[name]
	node := treeNode{Name: a.Name, Description: a.Description, Model: a.Model}
	for _, target := range r.targetsLocked(name) {
		if visited[target] {
			continue
		}
		visited[target] = true
		node.SubAgents = append(node.SubAgents, r.buildNode(target, visited))
	}
	return node
}

// targetsLocked mirrors Targets for callers already holding the lock.
func (r *Registry) targetsLocked(name string) []string {
	a, ok := r.agents[name]
	if !ok {
		return nil
	}
	seen := map[string]bool{name: true}
	var out []string
	add := func(target string) {
		if !seen[target] {
			seen[target] = true
			out = append(out, target)
		}
	}
	if name == r.root {
		for _, other := range r.order {
			add(other)
		}
	} else {
		add(r.root)
		for _, target := range a.TransferTargets {
			add(target)
		}
	}
	sort.Strings(out)
	return out
}
