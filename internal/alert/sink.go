// Package alert records operational and security alerts and exposes them to
// operators over HTTP and a websocket feed.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/metrics"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// Recorder is implemented by anything that accepts alerts. Recording never
// fails from the caller's point of view.
type Recorder interface {
	Record(ctx context.Context, title, message string, severity models.Severity)
}

// Compile-time interface guard.
var _ Recorder = (*Sink)(nil)

// Sink persists alerts and announces them on the event bus.
type Sink struct {
	repo    services.AlertRepository
	bus     event.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithMetrics counts recorded alerts.
func WithMetrics(m *metrics.Metrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

// NewSink creates a Sink. bus may be nil.
func NewSink(repo services.AlertRepository, bus event.Publisher, logger *zap.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores an alert. Failures are logged and swallowed. The insert
// outlives a cancelled request so rejected calls still leave a trace.
func (s *Sink) Record(ctx context.Context, title, message string, severity models.Severity) {
	if !severity.Valid() {
		severity = models.SeverityInfo
	}
	a := &models.Alert{
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: s.now().UTC(),
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.repo.Insert(ctx, a); err != nil {
		s.logger.Error("failed to record alert",
			zap.String("title", title),
			zap.String("severity", string(severity)),
			zap.Error(err),
		)
		return
	}
	s.metrics.ObserveAlert(string(severity))

	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event.Event{
		Topic:   event.TopicAlertCreated,
		Source:  "alert",
		Payload: *a,
	}); err != nil {
		s.logger.Warn("failed to publish alert", zap.Int64("id", a.ID), zap.Error(err))
	}
}
