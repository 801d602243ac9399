package models

import "time"

// LoginOutcome classifies a parsed authentication log line.
// Values match the action strings stored by earlier deployments.
type LoginOutcome string

const (
	LoginAccepted LoginOutcome = "Accepted password"
	LoginFailed   LoginOutcome = "Failed password"
	LoginUnknown  LoginOutcome = "Unknown"
)

// LoginAttempt is one authentication event extracted from a device log line.
type LoginAttempt struct {
	ID        int64        `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	SourceIP  string       `json:"source_ip"`
	Action    LoginOutcome `json:"action"`
	Source    string       `json:"source"`
	Host      string       `json:"host"`
}

// BlockedIP is a blocklist entry. Rows are toggled, never deleted.
type BlockedIP struct {
	IPAddress       string    `json:"ip_address"`
	BannedAt        time.Time `json:"banned_at"`
	Reason          string    `json:"reason"`
	CurrentlyBanned bool      `json:"currently_banned"`
}

// Severity grades an alert for operators.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Alert is an append-only operational or security event.
type Alert struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// SystemScript is an install or uninstall script served to new devices.
type SystemScript struct {
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"last_updated"`
}

// Script names accepted by the script store.
const (
	ScriptInstall   = "install"
	ScriptUninstall = "uninstall"
)
