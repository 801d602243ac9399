package device

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// maxScriptBytes caps uploaded script bodies.
const maxScriptBytes = 1 << 20

// installCommandResponse is returned by POST /admin/install-tokens.
type installCommandResponse struct {
	Command   string    `json:"command"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InstallCommand renders the one-liner an operator pastes on a new host.
func InstallCommand(scriptURL, installToken string) string {
	return fmt.Sprintf("curl -sSL %s | sudo bash -s -- %s", scriptURL, installToken)
}

// handleInstallCommand issues a short-lived install token and the command
// that uses it. An optional ttl query parameter (Go duration) overrides the
// configured lifetime.
//
//	@Summary	Generate install command
//	@Tags		device
//	@Produce	json
//	@Security	AdminToken
//	@Param		ttl	query		string	false	"Token lifetime, e.g. 30m"
//	@Success	201	{object}	installCommandResponse
//	@Failure	400	{object}	server.Problem
//	@Router		/admin/install-tokens [post]
func (m *Module) handleInstallCommand(w http.ResponseWriter, r *http.Request) {
	ttl := m.cfg.InstallCommandTTL
	if s := r.URL.Query().Get("ttl"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			server.BadRequest(w, "ttl must be a positive duration", r.URL.Path)
			return
		}
		ttl = d
	}

	tok, err := m.registry.IssueInstallToken(r.Context(), ttl)
	if err != nil {
		m.logger.Error("failed to issue install token", zap.Error(err))
		server.InternalError(w, "failed to issue install token", r.URL.Path)
		return
	}
	m.logger.Info("install token issued", zap.Time("expires_at", tok.ExpiresAt))

	server.WriteJSON(w, http.StatusCreated, installCommandResponse{
		Command:   InstallCommand(m.cfg.InstallScriptURL, tok.Token),
		Token:     tok.Token,
		ExpiresAt: tok.ExpiresAt,
	})
}

// handleDownloadScript serves a stored script as an attachment.
func (m *Module) handleDownloadScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !services.ValidScriptName(name) {
		server.NotFound(w, "unknown script", r.URL.Path)
		return
	}
	s, err := m.scripts.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			server.NotFound(w, "unknown script", r.URL.Path)
			return
		}
		m.logger.Error("failed to load script", zap.String("name", name), zap.Error(err))
		server.InternalError(w, "failed to load script", r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"_script.sh"))
	w.Header().Set("Content-Length", strconv.Itoa(len(s.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.Content)
}

// handleListScripts returns every stored script.
func (m *Module) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := m.scripts.GetAll(r.Context())
	if err != nil {
		m.logger.Error("failed to list scripts", zap.Error(err))
		server.InternalError(w, "failed to list scripts", r.URL.Path)
		return
	}
	if scripts == nil {
		scripts = []models.SystemScript{}
	}
	server.WriteJSON(w, http.StatusOK, scripts)
}

// handleUpdateScript replaces a script with the raw request body.
func (m *Module) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScriptBytes))
	if err != nil {
		server.BadRequest(w, "script body too large or unreadable", r.URL.Path)
		return
	}

	if err := m.scripts.Set(r.Context(), name, string(body)); err != nil {
		if errors.Is(err, services.ErrValidation) {
			server.BadRequest(w, "script name must be install or uninstall", r.URL.Path)
			return
		}
		m.logger.Error("failed to save script", zap.String("name", name), zap.Error(err))
		server.InternalError(w, "failed to save script", r.URL.Path)
		return
	}

	s, err := m.scripts.Get(r.Context(), name)
	if err != nil {
		m.logger.Error("failed to reload script", zap.String("name", name), zap.Error(err))
		server.InternalError(w, "failed to load script", r.URL.Path)
		return
	}
	m.logger.Info("script updated", zap.String("name", name), zap.Int("bytes", len(s.Content)))
	server.WriteJSON(w, http.StatusOK, s)
}
