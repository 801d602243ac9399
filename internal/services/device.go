package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CallumSergeant/alarm/pkg/models"
	"github.com/google/uuid"
)

// DeviceRepository provides CRUD access to managed devices.
type DeviceRepository interface {
	// Get returns a single device by unique ID.
	Get(ctx context.Context, uniqueID string) (*models.Device, error)

	// List returns devices ordered by hostname.
	List(ctx context.Context, opts ListOptions) (*ListResult[models.Device], error)

	// Create inserts a new device. If device.UniqueID is empty, a UUID is generated.
	Create(ctx context.Context, device *models.Device) error

	// Touch advances last_check_in and records the latest observed address.
	Touch(ctx context.Context, uniqueID, ipAddress string, at time.Time) error

	// Delete removes a device by unique ID.
	Delete(ctx context.Context, uniqueID string) error
}

// Compile-time interface guard.
var _ DeviceRepository = (*SQLiteDeviceRepository)(nil)

// SQLiteDeviceRepository implements DeviceRepository using SQLite.
type SQLiteDeviceRepository struct {
	db DBTX
}

// NewSQLiteDeviceRepository creates a DeviceRepository on db, which may be a
// *sql.DB or a *sql.Tx.
func NewSQLiteDeviceRepository(db DBTX) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

const deviceColumns = `unique_id, hostname, ip_address, os, last_check_in, status`

func (r *SQLiteDeviceRepository) Get(ctx context.Context, uniqueID string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM managed_devices WHERE unique_id = ?`, uniqueID)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", uniqueID, err)
	}
	return d, nil
}

func (r *SQLiteDeviceRepository) List(ctx context.Context, opts ListOptions) (*ListResult[models.Device], error) {
	opts = normalizeListOptions(opts)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM managed_devices`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM managed_devices ORDER BY hostname ASC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return &ListResult[models.Device]{Items: devices, Total: total}, nil
}

func (r *SQLiteDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.UniqueID == "" {
		device.UniqueID = uuid.New().String()
	}
	if device.LastCheckIn.IsZero() {
		device.LastCheckIn = time.Now()
	}
	device.LastCheckIn = device.LastCheckIn.UTC()
	if device.Status == "" {
		device.Status = models.DeviceStatusHealthy
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO managed_devices (unique_id, hostname, ip_address, os, last_check_in, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		device.UniqueID, device.Hostname, device.IPAddress, device.OS,
		device.LastCheckIn, string(device.Status),
	)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (r *SQLiteDeviceRepository) Touch(ctx context.Context, uniqueID, ipAddress string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE managed_devices
		SET last_check_in = ?, status = ?,
			ip_address = CASE WHEN ? = '' THEN ip_address ELSE ? END
		WHERE unique_id = ?`,
		at.UTC(), string(models.DeviceStatusHealthy), ipAddress, ipAddress, uniqueID,
	)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteDeviceRepository) Delete(ctx context.Context, uniqueID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM managed_devices WHERE unique_id = ?`, uniqueID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var status string
	if err := row.Scan(&d.UniqueID, &d.Hostname, &d.IPAddress, &d.OS, &d.LastCheckIn, &status); err != nil {
		return nil, err
	}
	d.Status = models.DeviceStatus(status)
	return &d, nil
}
