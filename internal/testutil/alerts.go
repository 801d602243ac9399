package testutil

import (
	"context"
	"sync"

	"github.com/CallumSergeant/alarm/pkg/models"
)

// RecordedAlert is one call captured by AlertRecorder.
type RecordedAlert struct {
	Title    string
	Message  string
	Severity models.Severity
}

// AlertRecorder captures alerts in memory. It satisfies alert.Recorder.
type AlertRecorder struct {
	mu     sync.Mutex
	alerts []RecordedAlert
}

// NewAlertRecorder returns an empty AlertRecorder.
func NewAlertRecorder() *AlertRecorder {
	return &AlertRecorder{}
}

// Record stores the alert.
func (r *AlertRecorder) Record(_ context.Context, title, message string, severity models.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, RecordedAlert{Title: title, Message: message, Severity: severity})
}

// All returns a copy of every recorded alert.
func (r *AlertRecorder) All() []RecordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Titled returns the recorded alerts with the given title.
func (r *AlertRecorder) Titled(title string) []RecordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedAlert
	for _, a := range r.alerts {
		if a.Title == title {
			out = append(out, a)
		}
	}
	return out
}

// Last returns the most recent alert, or the zero value when none exist.
func (r *AlertRecorder) Last() RecordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alerts) == 0 {
		return RecordedAlert{}
	}
	return r.alerts[len(r.alerts)-1]
}

// Reset clears the recorded alerts.
func (r *AlertRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = nil
}
