package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/testutil"
	"github.com/CallumSergeant/alarm/pkg/models"
)

func newRepo(t *testing.T) services.AlertRepository {
	t.Helper()
	st := testutil.NewMigratedStore(t)
	return services.NewSQLiteAlertRepository(st.DB())
}

func TestSink_RecordPersistsAndPublishes(t *testing.T) {
	repo := newRepo(t)
	bus := testutil.NewMockBus()
	clock := testutil.NewClock()
	sink := NewSink(repo, bus, zap.NewNop(), WithClock(clock.Now))

	sink.Record(context.Background(), "IP Blocked", "IP 10.0.0.5 added to blocklist.", models.SeverityWarning)

	res, err := repo.List(context.Background(), services.AlertFilter{}, services.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	got := res.Items[0]
	assert.Equal(t, "IP Blocked", got.Title)
	assert.Equal(t, models.SeverityWarning, got.Severity)
	assert.True(t, got.CreatedAt.Equal(clock.Now()))
	assert.False(t, got.IsRead)

	events := bus.Topic(event.TopicAlertCreated)
	require.Len(t, events, 1)
	published, ok := events[0].Payload.(models.Alert)
	require.True(t, ok, "payload type %T", events[0].Payload)
	assert.Equal(t, got.ID, published.ID)
}

func TestSink_UnknownSeverityDefaultsToInfo(t *testing.T) {
	repo := newRepo(t)
	sink := NewSink(repo, nil, zap.NewNop())

	sink.Record(context.Background(), "t", "m", models.Severity("LOUD"))

	res, err := repo.List(context.Background(), services.AlertFilter{}, services.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, models.SeverityInfo, res.Items[0].Severity)
}

type failingRepo struct{ services.AlertRepository }

func (failingRepo) Insert(context.Context, *models.Alert) error {
	return errors.New("disk full")
}

func TestSink_FailureIsSwallowed(t *testing.T) {
	bus := testutil.NewMockBus()
	sink := NewSink(failingRepo{}, bus, zap.NewNop())

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), "t", "m", models.SeverityError)
	})
	assert.Empty(t, bus.Events(), "failed inserts must not be published")
}

func TestSink_RecordsAfterCancel(t *testing.T) {
	repo := newRepo(t)
	sink := NewSink(repo, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Record(ctx, "Client Gone", "request cancelled", models.SeverityInfo)

	n, err := repo.CountUnread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleList(t *testing.T) {
	repo := newRepo(t)
	sink := NewSink(repo, nil, zap.NewNop())
	ctx := context.Background()
	sink.Record(ctx, "Device Registered", "Device web-1 registered successfully.", models.SeverityInfo)
	sink.Record(ctx, "Invalid Install Token", "Invalid or expired token.", models.SeverityWarning)
	sink.Record(ctx, "Global Ban", "Global Re-Ban Issued: 10.0.0.9", models.SeverityWarning)

	m := NewModule(repo, nil, zap.NewNop())

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int
	}{
		{"all", "", http.StatusOK, 3},
		{"severity", "?severity=WARNING", http.StatusOK, 2},
		{"severity ALL", "?severity=ALL", http.StatusOK, 3},
		{"search", "?q=web-1", http.StatusOK, 1},
		{"bad severity", "?severity=LOUD", http.StatusBadRequest, 0},
		{"bad start", "?start=soon", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/alerts"+tt.query, nil)
			rec := httptest.NewRecorder()
			m.handleList(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var body alertListResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantTotal, body.Total)
			assert.Len(t, body.Items, tt.wantTotal)
			assert.Equal(t, 3, body.Unread)
		})
	}
}

func TestHandleMarkRead(t *testing.T) {
	repo := newRepo(t)
	sink := NewSink(repo, nil, zap.NewNop())
	sink.Record(context.Background(), "t", "m", models.SeverityInfo)
	res, err := repo.List(context.Background(), services.AlertFilter{}, services.ListOptions{})
	require.NoError(t, err)
	id := strconv.FormatInt(res.Items[0].ID, 10)

	m := NewModule(repo, nil, zap.NewNop())

	tests := []struct {
		id   string
		want int
	}{
		{id, http.StatusOK},
		{"999", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/alerts/"+tt.id+"/read", nil)
		req.SetPathValue("id", tt.id)
		rec := httptest.NewRecorder()
		m.handleMarkRead(rec, req)
		assert.Equal(t, tt.want, rec.Code, "id %s", tt.id)
	}

	n, err := repo.CountUnread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRoutes_StreamNeedsBus(t *testing.T) {
	without := NewModule(newRepo(t), nil, zap.NewNop())
	for _, r := range without.Routes() {
		assert.NotEqual(t, "/admin/alerts/stream", r.Path)
		assert.True(t, r.Admin, "%s must be admin only", r.Path)
	}

	with := NewModule(newRepo(t), event.NewBus(zap.NewNop()), zap.NewNop())
	var paths []string
	for _, r := range with.Routes() {
		paths = append(paths, r.Path)
	}
	assert.Contains(t, paths, "/admin/alerts/stream")
}

func TestHandleStream(t *testing.T) {
	repo := newRepo(t)
	bus := event.NewBus(zap.NewNop())
	sink := NewSink(repo, bus, zap.NewNop())
	m := NewModule(repo, bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(m.handleStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered after the handshake completes, so keep
	// publishing until the first alert arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sink.Record(context.Background(), "IP Blocked", "IP 10.0.0.7 added to blocklist.", models.SeverityWarning)
			}
		}
	}()

	var got models.Alert
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "IP Blocked", got.Title)
	assert.NotZero(t, got.ID)
}

func TestHandleStream_StopClosesConnection(t *testing.T) {
	repo := newRepo(t)
	bus := event.NewBus(zap.NewNop())
	m := NewModule(repo, bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(m.handleStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, m.Stop(context.Background()))

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
