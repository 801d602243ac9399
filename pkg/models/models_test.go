package models

import (
	"testing"
	"time"
)

func TestInstallTokenStatus(t *testing.T) {
	tok := InstallToken{}
	if got := tok.Status(); got != InstallStatusPending {
		t.Errorf("unused token status = %q, want %q", got, InstallStatusPending)
	}
	tok.IsUsed = true
	if got := tok.Status(); got != InstallStatusHealthy {
		t.Errorf("used token status = %q, want %q", got, InstallStatusHealthy)
	}
}

func TestInstallTokenIsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := InstallToken{ExpiresAt: now}

	if tok.IsExpired(now) {
		t.Error("token expiring exactly now should not be expired")
	}
	if !tok.IsExpired(now.Add(time.Nanosecond)) {
		t.Error("token should be expired after its expiry instant")
	}
}

func TestSeverityValid(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		if !s.Valid() {
			t.Errorf("Severity(%q).Valid() = false, want true", s)
		}
	}
	if Severity("DEBUG").Valid() {
		t.Error(`Severity("DEBUG").Valid() = true, want false`)
	}
}
