// Package server hosts the HTTP API: it mounts module routes under the
// configured base path and applies logging, rate limiting and admin auth.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/version"
)

// Config controls how the server listens and which cross-cutting handlers
// are installed. Zero values disable the optional pieces.
type Config struct {
	Addr         string
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AdminToken guards admin routes. Empty leaves them unmounted.
	AdminToken string

	// MetricsPath and MetricsHandler expose a scrape endpoint outside BasePath.
	MetricsPath    string
	MetricsHandler http.Handler

	// TrustedProxies are peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix

	Limiter  *RateLimiter
	Observer RequestObserver
}

// Server is the alarm HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *module.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
	cfg        Config
}

// New creates a Server and mounts every module route.
func New(cfg Config, reg *module.Registry, logger *zap.Logger) *Server {
	cfg.BasePath = normalizeBasePath(cfg.BasePath)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		registry: reg,
		logger:   logger,
		mux:      mux,
		cfg:      cfg,
	}

	s.registerCoreRoutes()
	s.mountModuleRoutes()

	var handler http.Handler = mux
	if cfg.Limiter != nil {
		handler = cfg.Limiter.Middleware(handler)
	}
	handler = withRequestLogging(handler, logger, cfg.Observer)
	handler = withClientIP(handler, cfg.TrustedProxies)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.handle(http.MethodGet, "/health", s.handleHealth)
	if s.cfg.MetricsHandler != nil && s.cfg.MetricsPath != "" {
		s.mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.MetricsHandler)
		s.logger.Debug("mounted metrics", zap.String("path", s.cfg.MetricsPath))
	}
}

// mountModuleRoutes registers every module route under the base path.
func (s *Server) mountModuleRoutes() {
	for _, m := range s.registry.All() {
		hp, ok := m.(module.HTTPProvider)
		if !ok {
			continue
		}
		for _, route := range hp.Routes() {
			h := route.Handler
			if route.Admin {
				if s.cfg.AdminToken == "" {
					s.logger.Debug("admin route skipped, no admin token configured",
						zap.String("module", m.Name()),
						zap.String("path", route.Path),
					)
					continue
				}
				h = RequireAdmin(s.cfg.AdminToken, h)
			}
			s.handle(route.Method, route.Path, h)
			s.logger.Debug("mounted route",
				zap.String("module", m.Name()),
				zap.String("method", route.Method),
				zap.String("path", s.cfg.BasePath+route.Path),
			)
		}
	}
}

// handle registers path both with and without a trailing slash. Device agents
// in the field call the slash form.
func (s *Server) handle(method, path string, h http.HandlerFunc) {
	full := s.cfg.BasePath + strings.TrimSuffix(path, "/")
	s.mux.HandleFunc(method+" "+full, h)
	s.mux.HandleFunc(method+" "+full+"/{$}", h)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("base_path", s.cfg.BasePath),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Alarm-Version", version.Short())
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "alarm",
		"version": version.Map(),
	})
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}
