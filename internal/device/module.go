package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/token"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// Config holds the settings for install command generation.
type Config struct {
	InstallScriptURL  string
	InstallCommandTTL time.Duration
}

// DefaultConfig returns the production install settings.
func DefaultConfig() Config {
	return Config{
		InstallScriptURL:  "https://alarm.sgt.me.uk/install.sh",
		InstallCommandTTL: token.DefaultInstallCommandTTL,
	}
}

// Compile-time interface guards.
var (
	_ module.Module       = (*Module)(nil)
	_ module.HTTPProvider = (*Module)(nil)
)

// Module serves the device agent endpoints and the install tooling.
type Module struct {
	registry *Registry
	scripts  services.ScriptRepository
	alerts   alert.Recorder
	cfg      Config
	logger   *zap.Logger
}

// NewModule creates the device module.
func NewModule(registry *Registry, scripts services.ScriptRepository, alerts alert.Recorder, cfg Config, logger *zap.Logger) *Module {
	if cfg.InstallCommandTTL <= 0 {
		cfg.InstallCommandTTL = token.DefaultInstallCommandTTL
	}
	return &Module{
		registry: registry,
		scripts:  scripts,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *Module) Name() string { return "device" }

// Start seeds the install and uninstall script rows.
func (m *Module) Start(ctx context.Context) error {
	if err := m.scripts.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed scripts: %w", err)
	}
	m.logger.Info("device module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error { return nil }

// Routes implements module.HTTPProvider.
func (m *Module) Routes() []module.Route {
	return []module.Route{
		{Method: http.MethodPost, Path: "/register", Handler: m.handleRegister},
		{Method: http.MethodDelete, Path: "/deregister", Handler: m.handleDeregister},
		{Method: http.MethodPost, Path: "/device/token/refresh", Handler: m.handleRefresh},
		{Method: http.MethodPost, Path: "/device/heartbeat", Handler: m.handleHeartbeat},
		{Method: http.MethodGet, Path: "/device/status/{token}", Handler: m.handleStatus},
		{Method: http.MethodGet, Path: "/scripts/{name}", Handler: m.handleDownloadScript},
		{Method: http.MethodPost, Path: "/admin/install-tokens", Handler: m.handleInstallCommand, Admin: true},
		{Method: http.MethodGet, Path: "/admin/scripts", Handler: m.handleListScripts, Admin: true},
		{Method: http.MethodPut, Path: "/admin/scripts/{name}", Handler: m.handleUpdateScript, Admin: true},
	}
}

// Per-endpoint auth failure messages. Device agents in the field match on
// these strings.
var (
	deregisterAuth = AuthMessages{
		MissingTitle:   "Deregistration Failed",
		MissingDetail:  "Authorization header missing or improperly formatted.",
		NotFoundTitle:  "Deregistration Failed",
		NotFoundDetail: "Device not found or already deregistered.",
		ErrorTitle:     "Deregistration Error",
	}
	refreshAuth = AuthMessages{
		MissingTitle:   "Token Refresh Failed",
		MissingDetail:  "Authorization header with Bearer token is required.",
		NotFoundTitle:  "Token Refresh Failed",
		NotFoundDetail: "Device not found.",
		ErrorTitle:     "Token Refresh Error",
	}
	heartbeatAuth = AuthMessages{
		MissingTitle:   "Heartbeat Failed",
		MissingDetail:  "Authorization token missing.",
		NotFoundTitle:  "Heartbeat Failed",
		NotFoundDetail: "Device not found.",
		ErrorTitle:     "Heartbeat Error",
	}
)

// registerResponse is the body of a successful registration.
type registerResponse struct {
	Message  string           `json:"message"`
	UniqueID string           `json:"unique_id"`
	Tokens   models.TokenPair `json:"tokens"`
}

// handleRegister registers a device with a one-time install token.
//
//	@Summary		Register device
//	@Description	Consumes an install token and returns the device ID and a session.
//	@Tags			device
//	@Accept			json
//	@Produce		json
//	@Param			body	body		Registration	true	"Device details"
//	@Success		201		{object}	registerResponse
//	@Failure		400		{object}	server.Problem
//	@Router			/register [post]
func (m *Module) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m.alerts.Record(ctx, "Device Registration Attempt", "Attempt to register a new device.", models.SeverityInfo)

	var reg Registration
	if err := server.DecodeJSON(r, &reg); err != nil {
		m.alerts.Record(ctx, "Device Registration Failed", err.Error(), models.SeverityError)
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	reg.ClientIP = server.ClientIP(r)

	d, pair, err := m.registry.Register(ctx, reg)
	switch {
	case errors.Is(err, ErrMissingFields):
		m.alerts.Record(ctx, "Device Registration Failed", "Hostname, OS, and install token are required.", models.SeverityError)
		server.BadRequest(w, "Hostname, OS, and install token are required.", r.URL.Path)
		return
	case errors.Is(err, token.ErrInvalidInstallToken):
		m.alerts.Record(ctx, "Invalid Install Token", "Invalid or expired token provided.", models.SeverityWarning)
		server.BadRequest(w, "Invalid or expired token.", r.URL.Path)
		return
	case err != nil:
		m.logger.Error("registration failed", zap.String("hostname", reg.Hostname), zap.Error(err))
		m.alerts.Record(ctx, "Device Registration Failed", err.Error(), models.SeverityError)
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	m.alerts.Record(ctx, "Device Registered",
		fmt.Sprintf("Device %s registered successfully.", d.Hostname), models.SeverityInfo)
	server.WriteJSON(w, http.StatusCreated, registerResponse{
		Message:  "Device registered successfully.",
		UniqueID: d.UniqueID,
		Tokens:   pair,
	})
}

// handleDeregister deletes the calling device.
func (m *Module) handleDeregister(w http.ResponseWriter, r *http.Request) {
	d, ok := Authorize(w, r, m.alerts, deregisterAuth, m.registry.Authenticate)
	if !ok {
		return
	}
	if err := m.registry.Deregister(r.Context(), d.UniqueID); err != nil {
		if isNotFound(err) {
			writeDeviceError(w, r, m.alerts, deregisterAuth, err)
			return
		}
		m.alerts.Record(r.Context(), deregisterAuth.ErrorTitle, err.Error(), models.SeverityError)
		server.BadRequest(w, "Error during deregistration: "+err.Error(), r.URL.Path)
		return
	}

	m.alerts.Record(r.Context(), "Device Deregistered",
		fmt.Sprintf("Device %s deregistered successfully.", d.Hostname), models.SeverityInfo)
	server.WriteJSON(w, http.StatusOK, map[string]string{"detail": "Device deregistered successfully."})
}

// handleRefresh exchanges the refresh token in the Authorization header for
// a new session.
func (m *Module) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var pair models.TokenPair
	d, ok := Authorize(w, r, m.alerts, refreshAuth, func(ctx context.Context, raw string) (*models.Device, error) {
		d, p, err := m.registry.Refresh(ctx, raw)
		pair = p
		return d, err
	})
	if !ok {
		return
	}

	m.alerts.Record(r.Context(), "Token Refreshed",
		fmt.Sprintf("Tokens refreshed for device %s.", d.Hostname), models.SeverityInfo)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Tokens refreshed successfully.",
		"tokens":  pair,
	})
}

// handleHeartbeat records a check-in from the calling device.
func (m *Module) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	d, ok := Authorize(w, r, m.alerts, heartbeatAuth, m.registry.Authenticate)
	if !ok {
		return
	}
	if _, err := m.registry.Heartbeat(r.Context(), d.UniqueID, server.ClientIP(r)); err != nil {
		writeDeviceError(w, r, m.alerts, heartbeatAuth, err)
		return
	}

	m.alerts.Record(r.Context(), "Heartbeat Received",
		fmt.Sprintf("Heartbeat received from device %s.", d.Hostname), models.SeverityInfo)
	server.WriteJSON(w, http.StatusOK, map[string]string{"message": "Heartbeat received."})
}

// handleStatus tells an installer whether its token has been used yet.
func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	status, err := m.registry.InstallStatus(r.Context(), tok)
	if err != nil {
		if isNotFound(err) {
			m.alerts.Record(r.Context(), "Device Status Check Failed",
				fmt.Sprintf("Device with token %s not found.", tok), models.SeverityWarning)
			server.NotFound(w, "Device not found", r.URL.Path)
			return
		}
		m.logger.Error("install status lookup failed", zap.Error(err))
		server.InternalError(w, "failed to look up install status", r.URL.Path)
		return
	}

	word := "healthy"
	if status == models.InstallStatusPending {
		word = "pending"
	}
	m.alerts.Record(r.Context(), "Device Status Check",
		fmt.Sprintf("Device with token %s is %s.", tok, word), models.SeverityInfo)
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
