package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/testutil"
	"github.com/CallumSergeant/alarm/pkg/models"
)

type fixture struct {
	module   *Module
	attempts services.LoginAttemptRepository
	devices  services.DeviceRepository
	clock    *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.NewMigratedStore(t)
	clock := testutil.NewClock(time.Date(2025, 1, 10, 12, 30, 0, 0, time.UTC))
	attempts := services.NewSQLiteLoginAttemptRepository(st.DB())
	devices := services.NewSQLiteDeviceRepository(st.DB())
	return &fixture{
		module:   NewModule(attempts, devices, testutil.Logger(), clock.Now),
		attempts: attempts,
		devices:  devices,
		clock:    clock,
	}
}

func (f *fixture) add(t *testing.T, ip string, ago time.Duration, action models.LoginOutcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		a := testutil.NewLoginAttempt(ip, f.clock.Now().Add(-ago), testutil.WithAction(action))
		require.NoError(t, f.attempts.Insert(context.Background(), &a))
	}
}

func TestReporter_Stats(t *testing.T) {
	f := newFixture(t)
	f.add(t, "10.0.0.1", time.Hour, models.LoginFailed, 3)
	f.add(t, "10.0.0.2", 30*time.Hour, models.LoginFailed, 1)
	f.add(t, "10.0.0.2", 5*day, models.LoginFailed, 1)
	f.add(t, "10.0.0.3", 30*day, models.LoginFailed, 1)
	f.add(t, "10.0.0.9", 2*time.Hour, models.LoginAccepted, 2)
	f.add(t, "10.0.0.9", time.Minute, models.LoginUnknown, 4)

	st, err := f.module.reporter.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Counts{Last24h: 3, Previous24h: 1, Difference: 2, AbsDifference: 2, Last7d: 5, AllTime: 6}, st.Failed)
	assert.Equal(t, Counts{Last24h: 2, Previous24h: 0, Difference: 2, AbsDifference: 2, Last7d: 2, AllTime: 2}, st.Successful)

	assert.Equal(t, 3, st.FailedHourly[11])
	assert.Equal(t, 3, st.FailedHourly.Total())
	assert.Equal(t, 2, st.SuccessHourly[10])
	assert.Len(t, st.Labels, 24)
	assert.Equal(t, "00:00", st.Labels[0])
	assert.Equal(t, "23:00", st.Labels[23])

	require.Len(t, st.TopFailed, 2)
	assert.Equal(t, services.SourceCount{Host: "test-device", SourceIP: "10.0.0.1", Count: 3}, st.TopFailed[0])
	assert.Equal(t, services.SourceCount{Host: "test-device", SourceIP: "10.0.0.2", Count: 2}, st.TopFailed[1])
	require.Len(t, st.TopSuccessful, 1)
	assert.Equal(t, 2, st.TopSuccessful[0].Count)

	assert.Equal(t, []string{
		"Suspicious activity: IP 10.0.0.1 attempted 3 failed logins.",
		"Spike detected: Failed logins at 11:00 were over double the daily average.",
	}, st.Insights)
}

func TestInsights(t *testing.T) {
	t.Run("all clear", func(t *testing.T) {
		assert.Equal(t, []string{"No failed login attempts detected in the last 24 hours. All clear!"},
			Insights(Hourly{}, nil))
	})

	t.Run("unusual hour", func(t *testing.T) {
		var h Hourly
		h[3] = 11
		got := Insights(h, []services.SourceCount{{SourceIP: "10.1.1.1", Count: 11}})
		assert.Equal(t, []string{
			"Unusual activity detected: 11 failed logins at 03:00.",
			"Suspicious activity: IP 10.1.1.1 attempted 11 failed logins.",
			"Spike detected: Failed logins at 03:00 were over double the daily average.",
		}, got)
	})

	t.Run("flat distribution", func(t *testing.T) {
		var h Hourly
		for i := range h {
			h[i] = 2
		}
		assert.Empty(t, Insights(h, nil))
	})
}

func TestHourly_PeakPrefersEarliest(t *testing.T) {
	var h Hourly
	h[5], h[9] = 4, 4
	hour, count := h.Peak()
	assert.Equal(t, 5, hour)
	assert.Equal(t, 4, count)
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleStats(t *testing.T) {
	f := newFixture(t)
	rec := get(f.module.handleStats, "/api/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body, "failed")
	assert.Contains(t, body, "insights")
	hourly, ok := body["failed_hourly"].([]any)
	require.True(t, ok)
	assert.Len(t, hourly, 24)
}

func TestHandleLoginAttempts(t *testing.T) {
	f := newFixture(t)
	f.add(t, "10.0.0.1", time.Hour, models.LoginFailed, 2)
	f.add(t, "10.0.0.2", time.Minute, models.LoginAccepted, 1)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantTotal int
	}{
		{"all", "/api/admin/login-attempts", http.StatusOK, 3},
		{"ALL action", "/api/admin/login-attempts?action=ALL", http.StatusOK, 3},
		{"failed", "/api/admin/login-attempts?action=Failed+password", http.StatusOK, 2},
		{"query", "/api/admin/login-attempts?q=10.0.0.2", http.StatusOK, 1},
		{"range", "/api/admin/login-attempts?start=2025-01-10T12:00", http.StatusOK, 1},
		{"unknown action", "/api/admin/login-attempts?action=Bogus", http.StatusBadRequest, 0},
		{"bad start", "/api/admin/login-attempts?start=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(f.module.handleLoginAttempts, tt.target)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var res services.ListResult[models.LoginAttempt]
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Len(t, res.Items, tt.wantTotal)
		})
	}
}

func TestHandleDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []models.Device{
		testutil.NewDevice(testutil.WithHostname("web-2"), testutil.WithLastCheckIn(f.clock.Now().Add(-90*time.Second))),
		testutil.NewDevice(testutil.WithHostname("db-1"), testutil.WithLastCheckIn(f.clock.Now().Add(-time.Hour))),
	} {
		require.NoError(t, f.devices.Create(ctx, &d))
	}

	rec := get(f.module.handleDevices, "/api/admin/devices")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Items []struct {
			Hostname            string  `json:"hostname"`
			SecondsSinceCheckIn float64 `json:"seconds_since_check_in"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, 2, res.Total)
	assert.Equal(t, "db-1", res.Items[0].Hostname)
	assert.InDelta(t, 3600, res.Items[0].SecondsSinceCheckIn, 0.001)
	assert.Equal(t, "web-2", res.Items[1].Hostname)
	assert.InDelta(t, 90, res.Items[1].SecondsSinceCheckIn, 0.001)
}

func TestRoutesAreAdmin(t *testing.T) {
	f := newFixture(t)
	for _, r := range f.module.Routes() {
		assert.True(t, r.Admin, "%s %s should require the admin token", r.Method, r.Path)
	}
}
