package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docrelay/convert"
	"github.com/hazyhaar/docrelay/mailer"
	"github.com/hazyhaar/docrelay/relay"
	"github.com/hazyhaar/docrelay/shield"
)

func main() {
	port := env("PORT", "8085")
	sendgridKey := os.Getenv("SENDGRID_API_KEY")
	if sendgridKey == "" {
		slog.Error("SENDGRID_API_KEY is required")
		os.Exit(1)
	}
	sender := env("SENDGRID_SENDER_EMAIL", "convert@docrelay.local")
	backendMode := env("CONVERT_BACKEND", "remote")
	convertURL := os.Getenv("CONVERSION_API_URL")
	convertKey := os.Getenv("CONVERSION_API_KEY")
	maxInlineMB, err := strconv.Atoi(env("MAX_FILE_SIZE_MB", "25"))
	if err != nil {
		slog.Error("MAX_FILE_SIZE_MB must be an integer", "error", err)
		os.Exit(1)
	}
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
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

	// Conversion backend selection. "remote" talks to the convertd
	// service; "local" shells out to LibreOffice on this host.
	var backends []convert.Backend
	var downloadBase string
	switch backendMode {
	case "local":
		backends = []convert.Backend{convert.NewLocalBackend(env("SOFFICE_BIN", "soffice"))}
	default:
		if convertURL == "" {
			slog.Error("CONVERSION_API_URL is required for the remote backend")
			os.Exit(1)
		}
		backends = []convert.Backend{convert.NewRemoteBackend(convertURL, convertKey, maxInlineMB)}
		downloadBase = relay.DeriveDownloadBase(convertURL)
	}
	dispatcher, err := convert.NewDispatcher(logger, backends...)
	if err != nil {
		slog.Error("dispatcher init", "error", err)
		os.Exit(1)
	}

	mail := mailer.New(sendgridKey, sender, logger)

	opts := []relay.Option{}
	if posthogKey := os.Getenv("POSTHOG_API_KEY"); posthogKey != "" {
		monitor, err := relay.NewPosthogMonitor(posthogKey, os.Getenv("POSTHOG_ENDPOINT"))
		if err != nil {
			slog.Error("posthog init", "error", err)
			os.Exit(1)
		}
		defer monitor.Close()
		opts = append(opts, relay.WithMonitor(monitor))
	}

	svc, err := relay.New(relay.Config{DownloadBase: downloadBase, Logger: logger}, dispatcher, mail, opts...)
	if err != nil {
		slog.Error("relay init", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(64 << 20) {
		r.Use(mw)
	}
	r.Mount("/", relay.Routes(svc))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Webhook requests block on the conversion, which can run for
		// the full 600s budget.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("relay starting", "port", port, "backends", len(backends))
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

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
