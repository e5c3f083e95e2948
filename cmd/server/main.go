package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"perfwatch/internal/api"
	"perfwatch/internal/bus"
	"perfwatch/internal/config"
	"perfwatch/internal/monitor"
	"perfwatch/internal/providers"
	"perfwatch/internal/scheduler"
	"perfwatch/internal/storage"
	"perfwatch/internal/storage/postgres"
	"perfwatch/internal/storage/sqlite"
	"perfwatch/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	var store storage.Storer
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		store, err = postgres.New(ctx, cfg.DatabaseURL)
	default:
		store, err = sqlite.New(ctx, cfg.SQLitePath)
	}
	if err != nil {
		logger.Error("failed to open database",
			slog.String("driver", cfg.DatabaseDriver), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	publisher, err := bus.NewPublisher(cfg.NATSURL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer publisher.Close()

	templates, err := web.Templates()
	if err != nil {
		logger.Error("failed to parse templates", slog.String("error", err.Error()))
		os.Exit(1)
	}

	newRelic := providers.NewNewRelic()
	azure := providers.NewAzure()
	svc := &monitor.Service{
		Store:        store,
		PageSpeed:    providers.NewPageSpeed(),
		NewRelic:     newRelic,
		Azure:        azure,
		Analyzers:    []providers.Analyzer{providers.NewAnthropic(), providers.NewOpenAI()},
		Bus:          publisher,
		Logger:       logger,
		PageSpeedKey: cfg.PageSpeedAPIKey,
		RequestDelay: cfg.RequestDelay(),
	}

	if sites, err := store.ListSites(ctx); err == nil && len(sites) == 0 {
		logger.Info("no sites configured yet; open /setup to add one")
	}

	daily := &scheduler.Daily{
		Hour:   cfg.ScheduleHour,
		Minute: cfg.ScheduleMinute,
		Logger: logger,
		Run: func(ctx context.Context) {
			_, _ = svc.RunAllTests(ctx, storage.StrategyDesktop)
		},
	}
	daily.Start()
	defer daily.Stop()

	handler := &api.Handler{
		Store:     store,
		Monitor:   svc,
		NewRelic:  newRelic,
		Azure:     azure,
		Bus:       publisher,
		Logger:    logger,
		Templates: templates,
		Timeout:   5 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Test batches hold the response open for minutes, so only the
		// read side gets a hard timeout.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("perfwatch listening",
		slog.String("port", cfg.Port), slog.String("driver", cfg.DatabaseDriver))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}
