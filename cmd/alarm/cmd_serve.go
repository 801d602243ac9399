package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/blocklist"
	"github.com/CallumSergeant/alarm/internal/config"
	"github.com/CallumSergeant/alarm/internal/dashboard"
	"github.com/CallumSergeant/alarm/internal/detect"
	"github.com/CallumSergeant/alarm/internal/device"
	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/ingest"
	"github.com/CallumSergeant/alarm/internal/metrics"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/internal/notify"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/store"
	"github.com/CallumSergeant/alarm/internal/token"
	"github.com/CallumSergeant/alarm/internal/version"
)

// app is a fully wired server.
type app struct {
	store    *store.SQLiteStore
	registry *module.Registry
	server   *server.Server
	limiter  *server.RateLimiter
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("alarm server starting", zap.String("version", version.Short()))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.GetString("auth.admin_token") == "" {
		logger.Warn("auth.admin_token is empty, admin routes are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}
	defer a.store.Close()

	if err := a.registry.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}
	if a.limiter != nil {
		go a.limiter.Run(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	logger.Info("alarm server ready", zap.String("addr", cfg.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop modules first so open alert streams close before the server waits
	// on their connections.
	a.registry.StopAll(shutdownCtx)
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()

	logger.Info("alarm server stopped")
}

// newApp opens the database, applies the schema and wires every module.
// Modules are registered but not started.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := services.Migrate(ctx, st); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	db := st.DB()

	var m *metrics.Metrics
	if cfg.GetBool("metrics.enabled") {
		m = metrics.New()
	}

	bus := event.NewBus(logger.Named("event"))

	tokens, err := token.NewService(token.Config{
		SecretKey:       cfg.GetString("auth.secret_key"),
		AccessTTL:       cfg.GetDuration("auth.access_ttl"),
		RefreshTTL:      cfg.GetDuration("auth.refresh_ttl"),
		InstallTokenTTL: cfg.GetDuration("auth.install_token_ttl"),
	}, services.NewSQLiteInstallTokenRepository(db), nil)
	if err != nil {
		st.Close()
		return nil, err
	}

	alertRepo := services.NewSQLiteAlertRepository(db)
	sink := alert.NewSink(alertRepo, bus, logger.Named("alert"), alert.WithMetrics(m))

	bans := blocklist.NewStore(services.NewSQLiteBlockedIPRepository(db), bus, m, logger.Named("blocklist"), nil)
	attempts := services.NewSQLiteLoginAttemptRepository(db)
	devices := services.NewSQLiteDeviceRepository(db)
	detector := detect.New(attempts, bans, sink, m, logger.Named("detect"), nil)
	devRegistry := device.NewRegistry(st, devices, tokens, logger.Named("device"), nil)
	ingestor := ingest.New(st, detector, sink, m, cfg.GetString("ingest.source_label"), logger.Named("ingest"))

	modules := []module.Module{
		alert.NewModule(alertRepo, bus, logger.Named("alert")),
		blocklist.NewModule(bans, sink, logger.Named("blocklist")),
		device.NewModule(devRegistry, services.NewSQLiteScriptRepository(db, nil), sink, device.Config{
			InstallScriptURL:  cfg.GetString("install.script_url"),
			InstallCommandTTL: cfg.GetDuration("auth.install_command_ttl"),
		}, logger.Named("device")),
		ingest.NewModule(ingestor, devRegistry.Authenticate, sink, logger.Named("ingest")),
		dashboard.NewModule(attempts, devices, logger.Named("dashboard"), nil),
	}
	if cfg.GetBool("mqtt.enabled") {
		ncfg := notify.Config{
			Broker:         cfg.GetString("mqtt.broker"),
			Topic:          cfg.GetString("mqtt.topic"),
			ClientID:       cfg.GetString("mqtt.client_id"),
			Username:       cfg.GetString("mqtt.username"),
			Password:       cfg.GetString("mqtt.password"),
			QoS:            byte(cfg.GetInt("mqtt.qos")),
			Retain:         cfg.GetBool("mqtt.retain"),
			ConnectTimeout: cfg.GetDuration("mqtt.connect_timeout"),
		}
		modules = append(modules, notify.New(ncfg, notify.NewPahoClient(ncfg, logger.Named("mqtt")), bus, logger.Named("notify")))
	}

	trusted, err := server.ParseTrustedProxies(cfg.GetStringSlice("server.trusted_proxies"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}

	registry := module.NewRegistry(logger.Named("module"))
	for _, mod := range modules {
		if err := registry.Register(mod); err != nil {
			st.Close()
			return nil, err
		}
	}

	srvCfg := server.Config{
		Addr:           cfg.Addr(),
		BasePath:       cfg.GetString("server.base_path"),
		ReadTimeout:    cfg.GetDuration("server.read_timeout"),
		WriteTimeout:   cfg.GetDuration("server.write_timeout"),
		AdminToken:     cfg.GetString("auth.admin_token"),
		TrustedProxies: trusted,
	}
	if m != nil {
		srvCfg.MetricsPath = cfg.GetString("metrics.path")
		srvCfg.MetricsHandler = m.Handler()
		srvCfg.Observer = m
	}
	if cfg.GetBool("ratelimit.enabled") {
		srvCfg.Limiter = server.NewRateLimiter(cfg.GetFloat64("ratelimit.requests_per_second"), cfg.GetInt("ratelimit.burst"))
	}

	return &app{
		store:    st,
		registry: registry,
		server:   server.New(srvCfg, registry, logger.Named("server")),
		limiter:  srvCfg.Limiter,
	}, nil
}
