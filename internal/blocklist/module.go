package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

const (
	defaultReportReason = "No reason provided"
	defaultManualReason = "Manually blocked"
)

// dottedQuad is the address format accepted from operators.
var dottedQuad = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

// Compile-time interface guards.
var (
	_ module.Module       = (*Module)(nil)
	_ module.HTTPProvider = (*Module)(nil)
)

// Module serves the device-facing blocklist endpoints and the admin views.
type Module struct {
	store  *Store
	alerts alert.Recorder
	logger *zap.Logger
}

// NewModule creates the blocklist module.
func NewModule(store *Store, alerts alert.Recorder, logger *zap.Logger) *Module {
	return &Module{store: store, alerts: alerts, logger: logger}
}

func (m *Module) Name() string { return "blocklist" }

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Routes implements module.HTTPProvider.
func (m *Module) Routes() []module.Route {
	return []module.Route{
		{Method: http.MethodGet, Path: "/blocklist", Handler: m.handleBlocklist},
		{Method: http.MethodPost, Path: "/report_ban", Handler: m.handleReportBan},
		{Method: http.MethodGet, Path: "/admin/blocked-ips", Handler: m.handleSearch, Admin: true},
		{Method: http.MethodPost, Path: "/admin/blocked-ips", Handler: m.handleManualBlock, Admin: true},
		{Method: http.MethodPost, Path: "/admin/blocked-ips/{ip}/toggle", Handler: m.handleToggle, Admin: true},
	}
}

// handleBlocklist returns banned and unbanned addresses for device agents.
//
//	@Summary	Get blocklist
//	@Tags		blocklist
//	@Produce	json
//	@Success	200	{object}	Partition
//	@Failure	500	{object}	server.Problem
//	@Router		/blocklist [get]
func (m *Module) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	p, err := m.store.List(r.Context())
	if err != nil {
		m.logger.Error("failed to load blocklist", zap.Error(err))
		m.alerts.Record(r.Context(), "Error getting blocklist", err.Error(), models.SeverityError)
		server.InternalError(w, err.Error(), r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, p)
}

type reportBanRequest struct {
	IP     string  `json:"ip"`
	Reason *string `json:"reason"`
}

// handleReportBan accepts a ban observed by a device.
//
//	@Summary	Report a ban
//	@Tags		blocklist
//	@Accept		json
//	@Produce	json
//	@Param		body	body		reportBanRequest	true	"Banned address"
//	@Success	201		{object}	map[string]string
//	@Failure	400		{object}	server.Problem
//	@Router		/report_ban [post]
func (m *Module) handleReportBan(w http.ResponseWriter, r *http.Request) {
	var req reportBanRequest
	if err := server.DecodeJSON(r, &req); err != nil {
		m.alerts.Record(r.Context(), "Error blocking IP", err.Error(), models.SeverityError)
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.IP == "" {
		m.alerts.Record(r.Context(), "Error blocking IP", "IP address is required", models.SeverityWarning)
		server.BadRequest(w, "IP address is required", r.URL.Path)
		return
	}
	reason := defaultReportReason
	if req.Reason != nil {
		reason = *req.Reason
	}

	if _, err := m.store.ReportBan(r.Context(), req.IP, reason); err != nil {
		sev := models.SeverityError
		if errors.Is(err, services.ErrValidation) {
			sev = models.SeverityWarning
		}
		m.alerts.Record(r.Context(), "Error blocking IP", err.Error(), sev)
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	m.alerts.Record(r.Context(), "IP Blocked", fmt.Sprintf("%s has been blocked.", req.IP), models.SeverityInfo)
	server.WriteJSON(w, http.StatusCreated, map[string]string{"status": "IP added to blocklist"})
}

// handleSearch lists blocklist rows filtered by q, start and end on banned_at.
func (m *Module) handleSearch(w http.ResponseWriter, r *http.Request) {
	tr, err := server.ParseTimeRange(r)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	rows, err := m.store.Search(r.Context(), services.BlockedIPFilter{
		Query: r.URL.Query().Get("q"),
		Range: tr,
	})
	if err != nil {
		m.logger.Error("failed to search blocked ips", zap.Error(err))
		server.InternalError(w, "failed to list blocked IPs", r.URL.Path)
		return
	}
	if rows == nil {
		rows = []models.BlockedIP{}
	}
	server.WriteJSON(w, http.StatusOK, rows)
}

type manualBlockRequest struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

// handleManualBlock bans an address entered by an operator.
func (m *Module) handleManualBlock(w http.ResponseWriter, r *http.Request) {
	var req manualBlockRequest
	if err := server.DecodeJSON(r, &req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if !dottedQuad.MatchString(req.IPAddress) {
		server.BadRequest(w, "Invalid IP address format!", r.URL.Path)
		return
	}
	if req.Reason == "" {
		req.Reason = defaultManualReason
	}

	outcome, err := m.store.ReportBan(r.Context(), req.IPAddress, req.Reason)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			server.BadRequest(w, "Invalid IP address format!", r.URL.Path)
			return
		}
		m.logger.Error("manual block failed", zap.String("ip", req.IPAddress), zap.Error(err))
		server.InternalError(w, "failed to block IP", r.URL.Path)
		return
	}
	if outcome.Changed() {
		m.alerts.Record(r.Context(), "IP Blocked",
			fmt.Sprintf("%s has been blocked manually.", req.IPAddress), models.SeverityInfo)
	}

	status := http.StatusCreated
	if outcome != OutcomeCreated {
		status = http.StatusOK
	}
	server.WriteJSON(w, status, map[string]string{
		"ip_address": req.IPAddress,
		"outcome":    string(outcome),
	})
}

// handleToggle flips the ban state of one address.
func (m *Module) handleToggle(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	b, err := m.store.Toggle(r.Context(), ip)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			server.NotFound(w, "blocked IP not found", r.URL.Path)
			return
		}
		m.logger.Error("toggle failed", zap.String("ip", ip), zap.Error(err))
		server.InternalError(w, "failed to toggle ban", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, b)
}
