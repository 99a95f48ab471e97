package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docrelay/convertd"
	"github.com/hazyhaar/docrelay/dbopen"
	"github.com/hazyhaar/docrelay/shield"
	"github.com/hazyhaar/docrelay/tempstore"
)

func main() {
	cfg, err := convertd.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		slog.Error("API_KEY is required")
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(filepath.Join(cfg.DataDir, "registry.db"), dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open registry", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := tempstore.New(db, tempstore.Config{
		Dir:       filepath.Join(cfg.DataDir, "files"),
		Retention: cfg.Retention(),
		Logger:    logger,
	})
	if err != nil {
		slog.Error("tempstore init", "error", err)
		os.Exit(1)
	}

	svc, err := convertd.New(*cfg, store, logger)
	if err != nil {
		slog.Error("service init", "error", err)
		os.Exit(1)
	}

	// Expired-file sweeper.
	sweeper := tempstore.NewSweeper(store, logger, cfg.SweepInterval)
	go sweeper.Run(ctx)

	limiter := shield.NewRateLimiter(2, 10, "/health", "/download/")

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(64 << 20) {
		r.Use(mw)
	}
	r.Use(limiter.Middleware)
	r.Mount("/", convertd.Routes(svc))

	port := strconv.Itoa(cfg.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("convertd starting", "port", port, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
