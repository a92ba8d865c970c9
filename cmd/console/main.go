package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ssoconsole/internal/console"
	"ssoconsole/internal/platform/config"
	"ssoconsole/internal/platform/httpserver"
	"ssoconsole/internal/platform/logger"
	"ssoconsole/internal/platform/metrics"
	"ssoconsole/internal/session"
	sessionmetrics "ssoconsole/internal/session/metrics"
	"ssoconsole/internal/sso"
)

// main wires the gateway together and keeps the lifecycle small. All behavior
// lives in internal packages.
func main() {
	cfg := config.Load()
	log := logger.New()

	gwMetrics := metrics.New()
	sessMetrics := sessionmetrics.New()

	// One backend client per browser session; token state is never shared.
	// The browser's User-Agent rides along so the backend's device records
	// describe the real browser, not the gateway.
	factory := func(userAgent string) *sso.Client {
		sessOpts := []session.Option{
			session.WithLogger(log),
			session.WithMetrics(sessMetrics),
			session.WithRefreshTimeout(cfg.RefreshTimeout),
			session.WithRefreshLeeway(cfg.RefreshLeeway),
		}
		clientOpts := []sso.Option{sso.WithLogger(log)}
		if userAgent != "" {
			sessOpts = append(sessOpts, session.WithUserAgent(userAgent))
			clientOpts = append(clientOpts, sso.WithUserAgent(userAgent))
		}
		return sso.New(cfg.BackendURL, session.New(cfg.BackendURL, sessOpts...), clientOpts...)
	}

	store := console.NewStore(cfg.SessionTTL, factory, log, gwMetrics)
	router := console.NewRouter(console.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure,
	}, store, factory(""), log, gwMetrics)

	srv := httpserver.New(cfg.Addr, router)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go store.Run(sweepCtx)

	go func() {
		log.Info("console gateway listening", "addr", cfg.Addr, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("console gateway stopped")
}
