// Package ingest turns authentication log lines shipped by devices into
// stored login attempts and triggers a brute-force sweep after each batch.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// sourceIPPattern captures the first dotted quad that follows "from ".
// Octets are not range checked.
var sourceIPPattern = regexp.MustCompile(`from (\d{1,3}(?:\.\d{1,3}){3})`)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// Rejection reasons reported back to devices.
const (
	ReasonMissingFields    = "Missing 'message' or 'timestamp' in log data."
	ReasonSourceIPNotFound = "Source IP not found in log message."
	ReasonBadTimestamp     = "Invalid timestamp in log data."
)

// Entry is one log record as posted by a device's log shipper.
type Entry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Host      string `json:"host,omitempty"`
}

// EntryError reports why the entry at Index was rejected. It matches
// services.ErrValidation.
type EntryError struct {
	Index  int
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("log entry %d: %s", e.Index, e.Reason)
}

func (e *EntryError) Unwrap() error { return services.ErrValidation }

// ExtractSourceIP returns the address after the first "from " in message.
func ExtractSourceIP(message string) (string, bool) {
	m := sourceIPPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Classify maps a log line to a login outcome. An accepted password wins when
// both phrases appear.
func Classify(message string) models.LoginOutcome {
	switch {
	case strings.Contains(message, string(models.LoginAccepted)):
		return models.LoginAccepted
	case strings.Contains(message, string(models.LoginFailed)):
		return models.LoginFailed
	default:
		return models.LoginUnknown
	}
}

// ParseTimestamp accepts RFC 3339 and the common ISO-8601 variants log
// shippers emit. The result is in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Parse validates e and converts it to a login attempt. host is used when the
// entry carries none.
func Parse(index int, e Entry, host, source string) (models.LoginAttempt, error) {
	if strings.TrimSpace(e.Message) == "" || strings.TrimSpace(e.Timestamp) == "" {
		return models.LoginAttempt{}, &EntryError{Index: index, Reason: ReasonMissingFields}
	}
	ip, ok := ExtractSourceIP(e.Message)
	if !ok {
		return models.LoginAttempt{}, &EntryError{Index: index, Reason: ReasonSourceIPNotFound}
	}
	ts, err := ParseTimestamp(e.Timestamp)
	if err != nil {
		return models.LoginAttempt{}, &EntryError{Index: index, Reason: ReasonBadTimestamp}
	}
	if e.Host != "" {
		host = e.Host
	}
	return models.LoginAttempt{
		Timestamp: ts,
		SourceIP:  ip,
		Action:    Classify(e.Message),
		Source:    source,
		Host:      host,
	}, nil
}
