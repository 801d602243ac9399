package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/device"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// maxBatchBytes caps a single /logs request body.
const maxBatchBytes = 8 << 20

var logsAuth = device.AuthMessages{
	MissingTitle:   "Log Submission Failed",
	MissingDetail:  "Authorization header with Bearer token is required.",
	NotFoundTitle:  "Authorization Failed",
	NotFoundDetail: "Device not found.",
	ErrorTitle:     "Authorization Error",
}

// Compile-time interface guards.
var (
	_ module.Module       = (*Module)(nil)
	_ module.HTTPProvider = (*Module)(nil)
)

// Module serves POST /logs.
type Module struct {
	ingestor     *Ingestor
	authenticate device.ResolveFunc
	alerts       alert.Recorder
	logger       *zap.Logger
}

// NewModule creates the ingest module. authenticate resolves a device access
// token, typically (*device.Registry).Authenticate.
func NewModule(ingestor *Ingestor, authenticate device.ResolveFunc, alerts alert.Recorder, logger *zap.Logger) *Module {
	return &Module{
		ingestor:     ingestor,
		authenticate: authenticate,
		alerts:       alerts,
		logger:       logger,
	}
}

func (m *Module) Name() string { return "ingest" }

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Routes implements module.HTTPProvider.
func (m *Module) Routes() []module.Route {
	return []module.Route{
		{Method: http.MethodPost, Path: "/logs", Handler: m.handleLogs},
	}
}

// handleLogs accepts a single log entry or an array of them.
//
//	@Summary	Submit log entries
//	@Tags		ingest
//	@Accept		json
//	@Produce	json
//	@Security	DeviceToken
//	@Param		body	body		[]Entry	true	"One entry or an array"
//	@Success	201		{object}	map[string]string
//	@Failure	400		{object}	server.Problem
//	@Failure	401		{object}	server.Problem
//	@Failure	404		{object}	server.Problem
//	@Router		/logs [post]
func (m *Module) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := device.Authorize(w, r, m.alerts, logsAuth, m.authenticate)
	if !ok {
		return
	}
	m.alerts.Record(ctx, "Authorization Successful",
		fmt.Sprintf("Device %s authorized for log submission.", d.Hostname), models.SeverityInfo)

	entries, err := decodeEntries(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		m.alerts.Record(ctx, "Invalid Log Data", err.Error(), models.SeverityError)
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}

	res, err := m.ingestor.Ingest(ctx, d, server.ClientIP(r), entries)
	if err != nil {
		var ee *EntryError
		if errors.As(err, &ee) {
			m.logger.Warn("log batch rejected",
				zap.String("unique_id", d.UniqueID),
				zap.Int("index", ee.Index),
				zap.String("reason", ee.Reason),
			)
			m.alerts.Record(ctx, "Invalid Log Data", ee.Reason, models.SeverityError)
			server.BadRequest(w, ee.Reason, r.URL.Path)
			return
		}
		m.logger.Error("log batch not stored", zap.String("unique_id", d.UniqueID), zap.Error(err))
		m.alerts.Record(ctx, "Log Creation Failed", err.Error(), models.SeverityError)
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	for _, a := range res.Attempts {
		m.alerts.Record(ctx, "Log Entry Created",
			fmt.Sprintf("Log entry created for source IP %s.", a.SourceIP), models.SeverityInfo)
	}
	server.WriteJSON(w, http.StatusCreated, map[string]string{"status": "Log entries created"})
}

// decodeEntries reads either one JSON object or an array of objects.
func decodeEntries(body io.Reader) ([]Entry, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}

	if raw[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode log entries: %w", err)
		}
		return entries, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode log entry: %w", err)
	}
	return []Entry{e}, nil
}
