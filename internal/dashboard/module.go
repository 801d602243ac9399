package dashboard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// Compile-time interface guards.
var (
	_ module.Module       = (*Module)(nil)
	_ module.HTTPProvider = (*Module)(nil)
)

// Module exposes the dashboard queries under /admin.
type Module struct {
	reporter *Reporter
	attempts services.LoginAttemptRepository
	devices  services.DeviceRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewModule creates the dashboard module. now defaults to time.Now.
func NewModule(attempts services.LoginAttemptRepository, devices services.DeviceRepository, logger *zap.Logger, now func() time.Time) *Module {
	if now == nil {
		now = time.Now
	}
	return &Module{
		reporter: NewReporter(attempts, now),
		attempts: attempts,
		devices:  devices,
		logger:   logger,
		now:      now,
	}
}

func (m *Module) Name() string { return "dashboard" }

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Routes implements module.HTTPProvider.
func (m *Module) Routes() []module.Route {
	return []module.Route{
		{Method: http.MethodGet, Path: "/admin/stats", Handler: m.handleStats, Admin: true},
		{Method: http.MethodGet, Path: "/admin/login-attempts", Handler: m.handleLoginAttempts, Admin: true},
		{Method: http.MethodGet, Path: "/admin/devices", Handler: m.handleDevices, Admin: true},
	}
}

// handleStats returns login counts, hourly trends, top sources and insights.
//
//	@Summary	Dashboard statistics
//	@Tags		dashboard
//	@Produce	json
//	@Security	AdminToken
//	@Success	200	{object}	Stats
//	@Failure	500	{object}	server.Problem
//	@Router		/admin/stats [get]
func (m *Module) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := m.reporter.Stats(r.Context())
	if err != nil {
		m.logger.Error("failed to compute stats", zap.Error(err))
		server.InternalError(w, "failed to compute stats", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, st)
}

// handleLoginAttempts lists stored attempts, newest first by default.
// Query parameters: q, action, start, end, limit, offset, sort.
func (m *Module) handleLoginAttempts(w http.ResponseWriter, r *http.Request) {
	tr, err := server.ParseTimeRange(r)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	f := services.LoginAttemptFilter{
		Query: r.URL.Query().Get("q"),
		Range: tr,
	}
	if action := r.URL.Query().Get("action"); action != "" && !strings.EqualFold(action, "ALL") {
		switch models.LoginOutcome(action) {
		case models.LoginAccepted, models.LoginFailed, models.LoginUnknown:
			f.Action = models.LoginOutcome(action)
		default:
			server.BadRequest(w, "unknown action: "+action, r.URL.Path)
			return
		}
	}

	res, err := m.attempts.List(r.Context(), f, server.ParseListOptions(r))
	if err != nil {
		m.logger.Error("failed to list login attempts", zap.Error(err))
		server.InternalError(w, "failed to list login attempts", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}

// deviceView adds the check-in age to a device.
type deviceView struct {
	models.Device
	SecondsSinceCheckIn float64 `json:"seconds_since_check_in"`
}

// handleDevices lists managed devices ordered by hostname.
func (m *Module) handleDevices(w http.ResponseWriter, r *http.Request) {
	res, err := m.devices.List(r.Context(), server.ParseListOptions(r))
	if err != nil {
		m.logger.Error("failed to list devices", zap.Error(err))
		server.InternalError(w, "failed to list devices", r.URL.Path)
		return
	}

	now := m.now()
	items := make([]deviceView, 0, len(res.Items))
	for _, d := range res.Items {
		items = append(items, deviceView{
			Device:              d,
			SecondsSinceCheckIn: now.Sub(d.LastCheckIn).Seconds(),
		})
	}
	server.WriteJSON(w, http.StatusOK, services.ListResult[deviceView]{Items: items, Total: res.Total})
}
