package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry("beto")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	agents := []*Agent{
		{Name: "beto", Description: "coordinator", Instruction: "You coordinate."},
		{Name: "scout", Description: "research", Instruction: "You research."},
		{Name: "axel", Description: "execution", Instruction: "You execute.", TransferTargets: []string{"scout"}},
	}
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register(%s): %v", a.Name, err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return reg
}

func TestRegistryRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		agent   *Agent
		wantErr string
	}{
		{"nil agent", nil, "agent is required"},
		{"empty name", &Agent{Instruction: "x"}, "name is required"},
		{"empty instruction", &Agent{Name: "x"}, "instruction is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := NewRegistry("beto")
			err := reg.Register(tt.agent)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Register() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryDuplicateAgent(t *testing.T) {
	reg, _ := NewRegistry("beto")
	a := &Agent{Name: "beto", Instruction: "x"}
	if err := reg.Register(a); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(a); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryReturnClause(t *testing.T) {
	reg := newTestRegistry(t)

	root, _ := reg.Get("beto")
	if strings.Contains(root.Instruction, "transfer_to_agent") {
		t.Error("root instruction should not carry the return clause")
	}

	scout, _ := reg.Get("scout")
	if !strings.Contains(scout.Instruction, "transfer_to_agent") {
		t.Error("specialist instruction missing return clause")
	}
	if !strings.Contains(scout.Instruction, `"beto"`) {
		t.Error("return clause should name the coordinator")
	}
}

func TestRegistryValidateUnknownTarget(t *testing.T) {
	reg, _ := NewRegistry("beto")
	reg.Register(&Agent{Name: "beto", Instruction: "x"})
	reg.Register(&Agent{Name: "scout", Instruction: "x", TransferTargets: []string{"ghost"}})
	if err := reg.Validate(); err == nil {
		t.Fatal("expected validation to reject unknown transfer target")
	}
}

func TestRegistryTargets(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		agent string
		want  []string
	}{
		{"beto", []string{"axel", "scout"}},
		{"scout", []string{"beto"}},
		{"axel", []string{"beto", "scout"}},
	}
	for _, tt := range tests {
		got := reg.Targets(tt.agent)
		if len(got) != len(tt.want) {
			t.Errorf("Targets(%s) = %v, want %v", tt.agent, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Targets(%s) = %v, want %v", tt.agent, got, tt.want)
				break
			}
		}
	}
}

func TestRegistryCanTransfer(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		from, to string
		want     bool
	}{
		{"beto", "scout", true},
		{"beto", "axel", true},
		{"scout", "beto", true},
		{"scout", "axel", false},
		{"axel", "scout", true},
		{"axel", "axel", false},
	}
	for _, tt := range tests {
		if got := reg.CanTransfer(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransfer(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRegistryFind(t *testing.T) {
	reg := newTestRegistry(t)

	for _, name := range []string{"beto", "scout", "axel"} {
		if _, ok := reg.Find(name); !ok {
			t.Errorf("Find(%s) = false, want reachable", name)
		}
	}
	if _, ok := reg.Find("ghost"); ok {
		t.Error("Find(ghost) = true, want false")
	}
}

func TestRegistryTree(t *testing.T) {
	reg := newTestRegistry(t)

	raw, err := reg.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	var root struct {
		Name      string `json:"name"`
		SubAgents []struct {
			Name string `json:"name"`
		} `json:"sub_agents"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	if root.Name != "beto" {
		t.Errorf("tree root = %s, want beto", root.Name)
	}
	if len(root.SubAgents) != 2 {
		t.Errorf("root sub-agents = %d, want 2", len(root.SubAgents))
	}
}
