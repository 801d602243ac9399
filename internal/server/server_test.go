package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/module"
)

type fakeModule struct {
	name   string
	routes []module.Route
}

func (f *fakeModule) Name() string                  { return f.name }
func (f *fakeModule) Start(_ context.Context) error { return nil }
func (f *fakeModule) Stop(_ context.Context) error  { return nil }
func (f *fakeModule) Routes() []module.Route        { return f.routes }

func echo(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"body": body, "token": r.PathValue("token")})
	}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	reg := module.NewRegistry(zap.NewNop())
	err := reg.Register(&fakeModule{
		name: "fake",
		routes: []module.Route{
			{Method: http.MethodGet, Path: "/blocklist", Handler: echo("blocklist")},
			{Method: http.MethodGet, Path: "/device/status/{token}", Handler: echo("status")},
			{Method: http.MethodGet, Path: "/admin/stats", Handler: echo("stats"), Admin: true},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return New(cfg, reg, zap.NewNop())
}

func serve(s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, Config{BasePath: "/api"})

	rec := serve(s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if _, ok := body["version"].(map[string]any); !ok {
		t.Errorf("version = %v, want an object", body["version"])
	}
	if rec.Header().Get("X-Alarm-Version") == "" {
		t.Error("X-Alarm-Version header missing")
	}
}

func TestModuleRoutes_TrailingSlash(t *testing.T) {
	s := newTestServer(t, Config{BasePath: "/api/"})

	tests := []struct {
		target string
		want   int
	}{
		{"/api/blocklist", http.StatusOK},
		{"/api/blocklist/", http.StatusOK},
		{"/api/blocklist/extra", http.StatusNotFound},
		{"/api/device/status/abc", http.StatusOK},
		{"/api/device/status/abc/", http.StatusOK},
		{"/blocklist", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(s, http.MethodGet, tt.target, nil)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
			}
		})
	}

	rec := serve(s, http.MethodGet, "/api/device/status/abc/", nil)
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] != "abc" {
		t.Errorf("path value token = %q, want abc", body["token"])
	}
}

func TestModuleRoutes_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{BasePath: "/api"})
	rec := serve(s, http.MethodPost, "/api/blocklist", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/blocklist = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestAdminRoutes(t *testing.T) {
	t.Run("unmounted without admin token", func(t *testing.T) {
		s := newTestServer(t, Config{BasePath: "/api"})
		rec := serve(s, http.MethodGet, "/api/admin/stats", map[string]string{"Authorization": "Bearer x"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	s := newTestServer(t, Config{BasePath: "/api", AdminToken: "operator"})
	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"no header", nil, http.StatusUnauthorized},
		{"not bearer", map[string]string{"Authorization": "Basic b3A6b3A="}, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"valid", map[string]string{"Authorization": "Bearer operator"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, http.MethodGet, "/api/admin/stats", tt.header)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("alarm_up 1\n"))
	})
	s := newTestServer(t, Config{BasePath: "/api", MetricsPath: "/metrics", MetricsHandler: metrics})

	rec := serve(s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "alarm_up 1\n" {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
	codes  []int
}

func (o *recordingObserver) ObserveRequest(_ string, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
	o.codes = append(o.codes, status)
}

func TestRequestObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestServer(t, Config{BasePath: "/api", Observer: obs})

	serve(s, http.MethodGet, "/api/device/status/abc", nil)
	serve(s, http.MethodGet, "/nowhere", nil)

	if len(obs.routes) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs.routes))
	}
	if obs.routes[0] != "GET /api/device/status/{token}" {
		t.Errorf("route = %q, want the pattern", obs.routes[0])
	}
	if obs.codes[0] != http.StatusOK {
		t.Errorf("status = %d, want 200", obs.codes[0])
	}
	if obs.routes[1] != "unmatched" || obs.codes[1] != http.StatusNotFound {
		t.Errorf("unmatched request observed as %q %d", obs.routes[1], obs.codes[1])
	}
}

func TestNormalizeBasePath(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"/":        "",
		"api":      "/api",
		"/api/":    "/api",
		" /v1/x/ ": "/v1/x",
	}
	for in, want := range tests {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
