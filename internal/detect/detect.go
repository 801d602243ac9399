// Package detect promotes bursts of failed logins into blocklist bans.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/blocklist"
	"github.com/CallumSergeant/alarm/internal/metrics"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

const (
	// Window is how far back a sweep looks for failed logins.
	Window = 60 * time.Second

	// Threshold is the number of failures inside Window that marks a source.
	Threshold = 5

	// BanReason is stored on bans created by a sweep.
	BanReason = "Distributed brute-force attack"
)

// Banner applies a ban. *blocklist.Store implements it.
type Banner interface {
	Ban(ctx context.Context, ip, reason string) (blocklist.Outcome, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Suspicious  []services.SourceCount `json:"suspicious"`
	Created     []string               `json:"created"`
	Reactivated []string               `json:"reactivated"`
}

// Detector runs brute-force sweeps over recent login attempts.
type Detector struct {
	attempts services.LoginAttemptRepository
	bans     Banner
	alerts   alert.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Detector. m may be nil; now defaults to time.Now.
func New(attempts services.LoginAttemptRepository, bans Banner, alerts alert.Recorder, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{
		attempts: attempts,
		bans:     bans,
		alerts:   alerts,
		metrics:  m,
		logger:   logger,
		now:      now,
	}
}

// Sweep bans every source with at least Threshold failed logins since
// now-Window. Addresses already banned are left alone. Sweeps may overlap;
// the blocklist guarantees they converge on one row per address.
//
// A failure on one address does not stop the others; all such failures are
// joined into the returned error.
func (d *Detector) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	suspicious, err := d.attempts.SourcesAtLeast(ctx, models.LoginFailed, d.now().Add(-Window), Threshold)
	if err != nil {
		return res, fmt.Errorf("%w: load failed attempts: %v", services.ErrStorage, err)
	}
	res.Suspicious = suspicious

	var errs []error
	for _, sc := range suspicious {
		outcome, err := d.bans.Ban(ctx, sc.SourceIP, BanReason)
		if err != nil {
			d.logger.Warn("sweep could not ban source",
				zap.String("ip", sc.SourceIP),
				zap.Int("failures", sc.Count),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}

		switch outcome {
		case blocklist.OutcomeCreated:
			res.Created = append(res.Created, sc.SourceIP)
			d.alerts.Record(ctx, "Global Ban",
				fmt.Sprintf("Global Ban Issued: %s (%d failed logins)", sc.SourceIP, sc.Count),
				models.SeverityWarning)
		case blocklist.OutcomeReactivated:
			res.Reactivated = append(res.Reactivated, sc.SourceIP)
			d.alerts.Record(ctx, "Global Ban",
				fmt.Sprintf("Global Re-Ban Issued: %s", sc.SourceIP),
				models.SeverityWarning)
		}
	}

	d.metrics.ObserveSweep(time.Since(start), len(suspicious))
	if len(res.Created)+len(res.Reactivated) > 0 {
		d.logger.Info("sweep issued bans",
			zap.Strings("created", res.Created),
			zap.Strings("reactivated", res.Reactivated),
		)
	}
	return res, errors.Join(errs...)
}
