package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	web "robolearn/internal/adapters/http"
	"robolearn/internal/adapters/storage"
	"robolearn/internal/app"
	"robolearn/internal/application/orchestrators"
	"robolearn/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()

	// Retry emails that failed on first send
	outboxStopCh := make(chan struct{})
	orchestrators.StartBackgroundWorker(a.OutboxProcessor(), time.Minute, outboxStopCh)
	defer close(outboxStopCh)

	handler := web.NewMux(web.Options{
		Stores:    &web.Stores{Accounts: a.Accounts, Approvals: a.Approvals, Users: a.Users},
		Identity:  a.Identity,
		Verifier:  a.Verifier,
		Notify:    a.Notify,
		Collector: a.Collector,
		DB:        a.DB,
		Settings: web.Settings{
			Production:       cfg.IsProduction(),
			SiteURL:          cfg.SiteURL,
			RecaptchaSiteKey: cfg.RecaptchaSiteKey,
			GAMeasurementID:  cfg.GAMeasurementID,
			CSRFKey:          []byte(cfg.CSRFKey)[:32],
			TrustedOrigins:   trustedOrigins(cfg.SiteURL),
			RateLimit:        int(cfg.RateLimitPerSecond),
			SlowRequestMs:    cfg.SlowRequestMs,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	schema, err := storage.SchemaVersion(ctx, a.RawDB())
	if err != nil {
		return err
	}
	slog.Info("server_starting", "version", version, "addr", cfg.Addr, "env", cfg.Env, "schema", schema)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupLogging installs JSON logs in production and text logs elsewhere.
func setupLogging(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// trustedOrigins lets a reverse proxy's public host pass the CSRF origin check.
func trustedOrigins(siteURL string) []string {
	u, err := url.Parse(siteURL)
	if siteURL == "" || err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
