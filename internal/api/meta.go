package api

import (
	"encoding/json"
	"net/http"

	"github.com/radbotlabs/radbot/internal/agent"
)

// toolView is the listing shape of one tool.
type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// handleTools lists the tools visible to a session's current agent,
// including the transfer tool the runner always adds.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	agentName := s.agents.Root()
	if sessionID != "" {
		sess, err := s.sessions.Get(r.Context(), sessionID)
		if err != nil {
			writeError(w, notFoundStatus(err), "session %s: %v", sessionID, err)
			return
		}
		if sess.CurrentAgent != "" {
			agentName = sess.CurrentAgent
		}
	}

	views := []toolView{}
	for _, tool := range s.tools.ToolsFor(agentName) {
		views = append(views, toolView{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	transfer := agent.NewTransferTool(s.agents)
	views = append(views, toolView{
		Name:        transfer.Name(),
		Description: transfer.Description(),
		Schema:      transfer.Schema(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"agent": agentName,
		"tools": views,
	})
}

// handleAgentInfo reports the agent graph and the model each agent runs on.
func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	tree, err := s.agents.Tree()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "agent tree: %v", err)
		return
	}
	type agentInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Model       string `json:"model"`
	}
	infos := []agentInfo{}
	for _, name := range s.agents.Names() {
		a, _ := s.agents.Get(name)
		model := a.Model
		if model == "" {
			model = s.modelFor(name)
		}
		infos = append(infos, agentInfo{Name: name, Description: a.Description, Model: model})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":   s.agents.Root(),
		"agents": infos,
		"tree":   tree,
	})
}
