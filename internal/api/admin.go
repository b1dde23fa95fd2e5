package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/radbotlabs/radbot/internal/credentials"
)

// requireAdmin gates the admin plane behind the configured bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.Warn("admin auth rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminMux mounts the credential CRUD and live config surface.
func (s *Server) adminMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/credentials", s.handleListCredentials)
	mux.HandleFunc("POST /admin/credentials", s.handleSetCredential)
	mux.HandleFunc("DELETE /admin/credentials/{name}", s.handleDeleteCredential)
	mux.HandleFunc("GET /admin/config", s.handleConfigView)
	mux.HandleFunc("POST /admin/config/{section}", s.handleConfigOverride)
	return mux
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		writeError(w, http.StatusServiceUnavailable, "credential store is not configured")
		return
	}
	records, err := s.creds.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list credentials: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": records})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		writeError(w, http.StatusServiceUnavailable, "credential store is not configured")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Value       string `json:"value"`
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "name and value are required")
		return
	}
	err := s.creds.Set(r.Context(), &credentials.Record{
		Name:        req.Name,
		Value:       req.Value,
		Type:        req.Type,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store credential: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "status": "stored"})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		writeError(w, http.StatusServiceUnavailable, "credential store is not configured")
		return
	}
	name := r.PathValue("name")
	if err := s.creds.Delete(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "delete credential: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleConfigView renders the live merged configuration with secrets
// redacted.
func (s *Server) handleConfigView(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		writeError(w, http.StatusServiceUnavailable, "config manager is not attached")
		return
	}
	cfg := s.config.Current()
	redactedKeys := map[string]string{}
	for name := range cfg.APIKeys {
		redactedKeys[name] = "[redacted]"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     cfg.Agent,
		"cache":     cfg.Cache,
		"logging":   cfg.Logging,
		"server":    cfg.Server,
		"database":  cfg.Database,
		"mcp":       cfg.MCP,
		"notify":    cfg.Notify,
		"scheduler": cfg.Scheduler,
		"axel":      cfg.Axel,
		"api_keys":  redactedKeys,
	})
}

// handleConfigOverride stores a sealed section override and re-merges the
// live snapshot.
func (s *Server) handleConfigOverride(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil || s.config == nil {
		writeError(w, http.StatusServiceUnavailable, "config overrides require credentials and config manager")
		return
	}
	section := r.PathValue("section")
	var req struct {
		Value string `json:"value"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.creds.SetConfigOverride(r.Context(), section, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.config.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"section": section, "status": "applied"})
}
