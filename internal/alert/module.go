package alert

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// Subscriber is the part of the event bus the alert feed needs.
type Subscriber interface {
	Subscribe(topic string, h event.Handler) func()
}

// Compile-time interface guards.
var (
	_ module.Module       = (*Module)(nil)
	_ module.HTTPProvider = (*Module)(nil)
)

// Module serves the admin alert endpoints.
type Module struct {
	repo   services.AlertRepository
	bus    Subscriber
	logger *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewModule creates the alert module. bus may be nil, which disables the
// live stream.
func NewModule(repo services.AlertRepository, bus Subscriber, logger *zap.Logger) *Module {
	return &Module{
		repo:   repo,
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (m *Module) Name() string { return "alert" }

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("alert module started")
	return nil
}

// Stop closes open alert streams.
func (m *Module) Stop(_ context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })
	m.logger.Info("alert module stopped")
	return nil
}

// Routes implements module.HTTPProvider.
func (m *Module) Routes() []module.Route {
	routes := []module.Route{
		{Method: http.MethodGet, Path: "/admin/alerts", Handler: m.handleList, Admin: true},
		{Method: http.MethodPost, Path: "/admin/alerts/{id}/read", Handler: m.handleMarkRead, Admin: true},
	}
	if m.bus != nil {
		routes = append(routes, module.Route{
			Method: http.MethodGet, Path: "/admin/alerts/stream", Handler: m.handleStream, Admin: true,
		})
	}
	return routes
}

// alertListResponse is the body of GET /admin/alerts.
type alertListResponse struct {
	Items  []models.Alert `json:"items"`
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
}

// handleList returns alerts filtered by q, severity, start and end.
//
//	@Summary	List alerts
//	@Tags		alerts
//	@Produce	json
//	@Security	AdminToken
//	@Param		q			query	string	false	"Substring of title or message"
//	@Param		severity	query	string	false	"INFO, WARNING, ERROR or CRITICAL"
//	@Success	200	{object}	alertListResponse
//	@Failure	400	{object}	server.Problem
//	@Router		/admin/alerts [get]
func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	tr, err := server.ParseTimeRange(r)
	if err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	f := services.AlertFilter{
		Query:    r.URL.Query().Get("q"),
		Severity: models.Severity(r.URL.Query().Get("severity")),
		Range:    tr,
	}
	if f.Severity == "ALL" {
		f.Severity = ""
	}
	if f.Severity != "" && !f.Severity.Valid() {
		server.BadRequest(w, "severity must be INFO, WARNING, ERROR or CRITICAL", r.URL.Path)
		return
	}

	res, err := m.repo.List(r.Context(), f, server.ParseListOptions(r))
	if err != nil {
		m.logger.Error("failed to list alerts", zap.Error(err))
		server.InternalError(w, "failed to list alerts", r.URL.Path)
		return
	}
	unread, err := m.repo.CountUnread(r.Context())
	if err != nil {
		m.logger.Error("failed to count unread alerts", zap.Error(err))
		server.InternalError(w, "failed to count unread alerts", r.URL.Path)
		return
	}

	items := res.Items
	if items == nil {
		items = []models.Alert{}
	}
	server.WriteJSON(w, http.StatusOK, alertListResponse{Items: items, Total: res.Total, Unread: unread})
}

// handleMarkRead flags one alert as read.
func (m *Module) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		server.BadRequest(w, "id must be an integer", r.URL.Path)
		return
	}
	if err := m.repo.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			server.NotFound(w, "alert not found", r.URL.Path)
			return
		}
		m.logger.Error("failed to mark alert read", zap.Int64("id", id), zap.Error(err))
		server.InternalError(w, "failed to mark alert read", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "is_read": true})
}

// handleStream upgrades to a websocket and forwards every new alert as JSON
// until the client goes away or the module stops. Slow clients lose alerts
// rather than stall the publisher.
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	// Server read/write timeouts would otherwise end the hijacked connection.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Warn("alert stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch := make(chan models.Alert, streamBuffer)
	unsubscribe := m.bus.Subscribe(event.TopicAlertCreated, func(_ context.Context, e event.Event) {
		a, ok := e.Payload.(models.Alert)
		if !ok {
			return
		}
		select {
		case ch <- a:
		default:
			m.logger.Debug("alert stream buffer full, dropping alert", zap.Int64("id", a.ID))
		}
	})
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	m.logger.Debug("alert stream opened", zap.String("client_ip", server.ClientIP(r)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case a := <-ch:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, a)
			cancel()
			if err != nil {
				m.logger.Debug("alert stream closed", zap.Error(err))
				return
			}
		}
	}
}
