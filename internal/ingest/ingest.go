package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/detect"
	"github.com/CallumSergeant/alarm/internal/metrics"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// DefaultSourceLabel tags attempts shipped by the Vector agent.
const DefaultSourceLabel = "vector"

// Batch outcomes reported to metrics.
const (
	batchAccepted = "accepted"
	batchRejected = "rejected"
	batchFailed   = "failed"
)

// Sweeper runs a brute-force sweep. *detect.Detector implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (detect.SweepResult, error)
}

// Result describes a stored batch.
type Result struct {
	Attempts []models.LoginAttempt
	Sweep    detect.SweepResult
}

// Ingestor validates and stores log batches.
type Ingestor struct {
	db          services.Transactor
	sweeper     Sweeper
	alerts      alert.Recorder
	metrics     *metrics.Metrics
	sourceLabel string
	logger      *zap.Logger
}

// New creates an Ingestor. An empty sourceLabel selects DefaultSourceLabel;
// m may be nil.
func New(db services.Transactor, sweeper Sweeper, alerts alert.Recorder, m *metrics.Metrics, sourceLabel string, logger *zap.Logger) *Ingestor {
	if sourceLabel == "" {
		sourceLabel = DefaultSourceLabel
	}
	return &Ingestor{
		db:          db,
		sweeper:     sweeper,
		alerts:      alerts,
		metrics:     m,
		sourceLabel: sourceLabel,
		logger:      logger,
	}
}

// Ingest parses every entry, then stores them all in one transaction. Any
// invalid entry rejects the whole batch with an *EntryError and nothing is
// written. Entries without a host are attributed to clientIP.
//
// A sweep runs after the commit. A failed sweep is logged and alerted but
// does not fail the batch, which is already stored.
func (i *Ingestor) Ingest(ctx context.Context, device *models.Device, clientIP string, entries []Entry) (Result, error) {
	attempts := make([]models.LoginAttempt, 0, len(entries))
	for idx, e := range entries {
		a, err := Parse(idx, e, clientIP, i.sourceLabel)
		if err != nil {
			i.metrics.ObserveBatch(batchRejected)
			return Result{}, err
		}
		attempts = append(attempts, a)
	}

	err := i.db.Tx(ctx, func(tx *sql.Tx) error {
		repo := services.NewSQLiteLoginAttemptRepository(tx)
		for idx := range attempts {
			if err := repo.Insert(ctx, &attempts[idx]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		i.metrics.ObserveBatch(batchFailed)
		return Result{}, fmt.Errorf("%w: store log batch: %v", services.ErrStorage, err)
	}

	i.metrics.ObserveBatch(batchAccepted)
	counts := make(map[models.LoginOutcome]int)
	for _, a := range attempts {
		counts[a.Action]++
	}
	for action, n := range counts {
		i.metrics.ObserveEntries(string(action), n)
	}

	fields := []zap.Field{zap.Int("entries", len(attempts)), zap.String("client_ip", clientIP)}
	if device != nil {
		fields = append(fields, zap.String("unique_id", device.UniqueID), zap.String("hostname", device.Hostname))
	}
	i.logger.Debug("log batch stored", fields...)

	res := Result{Attempts: attempts}
	if i.sweeper == nil {
		return res, nil
	}
	sweep, err := i.sweeper.Sweep(ctx)
	res.Sweep = sweep
	if err != nil {
		i.logger.Error("sweep after ingest failed", zap.Error(err))
		i.alerts.Record(ctx, "Sweep Failed", err.Error(), models.SeverityError)
	}
	return res, nil
}
