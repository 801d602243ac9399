package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/CallumSergeant/alarm/pkg/models"
)

// NewDevice returns a Device with sensible defaults, suitable for test fixtures.
// Override individual fields after creation as needed.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		UniqueID:    uuid.New().String(),
		Hostname:    "test-device",
		IPAddress:   "192.168.1.100",
		OS:          "Ubuntu 24.04",
		LastCheckIn: time.Now().UTC(),
		Status:      models.DeviceStatusHealthy,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithHostname sets the device hostname.
func WithHostname(name string) func(*models.Device) {
	return func(d *models.Device) { d.Hostname = name }
}

// WithIP sets the device's last observed address.
func WithIP(ip string) func(*models.Device) {
	return func(d *models.Device) { d.IPAddress = ip }
}

// WithStatus sets the device status.
func WithStatus(s models.DeviceStatus) func(*models.Device) {
	return func(d *models.Device) { d.Status = s }
}

// WithLastCheckIn sets the device's last_check_in timestamp.
func WithLastCheckIn(t time.Time) func(*models.Device) {
	return func(d *models.Device) { d.LastCheckIn = t }
}

// NewLoginAttempt returns a failed attempt from ip at ts.
func NewLoginAttempt(ip string, ts time.Time, opts ...func(*models.LoginAttempt)) models.LoginAttempt {
	a := models.LoginAttempt{
		Timestamp: ts,
		SourceIP:  ip,
		Action:    models.LoginFailed,
		Source:    "vector",
		Host:      "test-device",
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithAction sets the attempt outcome.
func WithAction(action models.LoginOutcome) func(*models.LoginAttempt) {
	return func(a *models.LoginAttempt) { a.Action = action }
}

// WithHost sets the reporting host.
func WithHost(host string) func(*models.LoginAttempt) {
	return func(a *models.LoginAttempt) { a.Host = host }
}
