// Package device manages the lifecycle of managed devices: registration
// against a one-time install token, session refresh, heartbeats and
// deregistration.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/token"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// ErrMissingFields is returned by Register when a required field is empty.
var ErrMissingFields = fmt.Errorf("%w: Hostname, OS, and install token are required.", services.ErrValidation)

// Registration is the input to Register.
type Registration struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	InstallToken string `json:"install_token"`
	ClientIP     string `json:"-"`
}

// Registry owns the devices table and the session tokens issued to devices.
type Registry struct {
	db      services.Transactor
	devices services.DeviceRepository
	tokens  *token.Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a Registry. devices must operate on the same database
// that db opens transactions on.
func NewRegistry(db services.Transactor, devices services.DeviceRepository, tokens *token.Service, logger *zap.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{db: db, devices: devices, tokens: tokens, logger: logger, now: now}
}

// Register consumes the install token and creates the device in a single
// transaction, then returns a fresh session. Fields are validated before the
// token is touched, so a bad request never burns a token.
func (r *Registry) Register(ctx context.Context, reg Registration) (*models.Device, models.TokenPair, error) {
	reg.Hostname = strings.TrimSpace(reg.Hostname)
	reg.OS = strings.TrimSpace(reg.OS)
	reg.InstallToken = strings.TrimSpace(reg.InstallToken)
	if reg.Hostname == "" || reg.OS == "" || reg.InstallToken == "" {
		return nil, models.TokenPair{}, ErrMissingFields
	}

	d := &models.Device{
		UniqueID:    uuid.NewString(),
		Hostname:    reg.Hostname,
		IPAddress:   reg.ClientIP,
		OS:          reg.OS,
		LastCheckIn: r.now().UTC(),
		Status:      models.DeviceStatusHealthy,
	}
	pair, err := r.tokens.IssueSession(d.UniqueID)
	if err != nil {
		return nil, models.TokenPair{}, err
	}

	err = r.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := r.tokens.WithDB(tx).ConsumeInstallToken(ctx, reg.InstallToken); err != nil {
			return err
		}
		if err := services.NewSQLiteDeviceRepository(tx).Create(ctx, d); err != nil {
			return fmt.Errorf("%w: create device: %v", services.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, models.TokenPair{}, err
	}

	r.logger.Info("device registered",
		zap.String("unique_id", d.UniqueID),
		zap.String("hostname", d.Hostname),
		zap.String("ip", d.IPAddress),
	)
	return d, pair, nil
}

// Deregister deletes the device. Unknown IDs yield services.ErrNotFound.
func (r *Registry) Deregister(ctx context.Context, uniqueID string) error {
	if err := r.devices.Delete(ctx, uniqueID); err != nil {
		return err
	}
	r.logger.Info("device deregistered", zap.String("unique_id", uniqueID))
	return nil
}

// Heartbeat records a check-in from clientIP and returns the updated device.
func (r *Registry) Heartbeat(ctx context.Context, uniqueID, clientIP string) (*models.Device, error) {
	if err := r.devices.Touch(ctx, uniqueID, clientIP, r.now()); err != nil {
		return nil, err
	}
	return r.devices.Get(ctx, uniqueID)
}

// Find returns the device or services.ErrNotFound.
func (r *Registry) Find(ctx context.Context, uniqueID string) (*models.Device, error) {
	return r.devices.Get(ctx, uniqueID)
}

// List returns devices ordered by hostname.
func (r *Registry) List(ctx context.Context, opts services.ListOptions) (*services.ListResult[models.Device], error) {
	return r.devices.List(ctx, opts)
}

// Authenticate resolves an access token to its device.
func (r *Registry) Authenticate(ctx context.Context, accessToken string) (*models.Device, error) {
	id, err := r.tokens.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, err
	}
	return r.devices.Get(ctx, id)
}

// Refresh exchanges a refresh token for a new session. The device must still
// exist.
func (r *Registry) Refresh(ctx context.Context, refreshToken string) (*models.Device, models.TokenPair, error) {
	id, err := r.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, models.TokenPair{}, err
	}
	d, err := r.devices.Get(ctx, id)
	if err != nil {
		return nil, models.TokenPair{}, err
	}
	pair, err := r.tokens.IssueSession(d.UniqueID)
	if err != nil {
		return nil, models.TokenPair{}, err
	}
	return d, pair, nil
}

// InstallStatus reports whether the install token has been used to register
// a device.
func (r *Registry) InstallStatus(ctx context.Context, installToken string) (models.InstallStatus, error) {
	tok, err := r.tokens.InstallTokenStatus(ctx, installToken)
	if err != nil {
		return "", err
	}
	return tok.Status(), nil
}

// IssueInstallToken creates a token valid for ttl.
func (r *Registry) IssueInstallToken(ctx context.Context, ttl time.Duration) (*models.InstallToken, error) {
	return r.tokens.IssueInstallToken(ctx, ttl)
}

// isNotFound reports whether err means the device row is gone.
func isNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
