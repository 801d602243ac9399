package models

import "time"

// DeviceStatus represents the health of a managed device.
type DeviceStatus string

const (
	DeviceStatusHealthy DeviceStatus = "Healthy"
	DeviceStatusStale   DeviceStatus = "Stale"
)

// Device is a managed host that ships authentication logs to the server.
type Device struct {
	UniqueID    string       `json:"unique_id"`
	Hostname    string       `json:"hostname"`
	IPAddress   string       `json:"ip_address"`
	OS          string       `json:"os"`
	LastCheckIn time.Time    `json:"last_check_in"`
	Status      DeviceStatus `json:"status"`
}

// InstallToken is a one-time credential that authorizes a single device registration.
type InstallToken struct {
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsUsed    bool       `json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// IsExpired reports whether the token's expiry instant lies before now.
func (t *InstallToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// InstallStatus is the value reported by the device status endpoint.
type InstallStatus string

const (
	InstallStatusHealthy InstallStatus = "Healthy"
	InstallStatusPending InstallStatus = "Pending"
)

// Status maps the used flag onto the install status shown to installers.
func (t *InstallToken) Status() InstallStatus {
	if t.IsUsed {
		return InstallStatusHealthy
	}
	return InstallStatusPending
}

// TokenPair holds the session tokens issued to a device.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
