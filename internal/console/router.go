package console

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"ssoconsole/internal/platform/metrics"
	"ssoconsole/internal/platform/middleware"
	"ssoconsole/internal/sso"
)

// RouterConfig carries everything the router needs beyond its collaborators.
type RouterConfig struct {
	AllowedOrigins []string
	CookieSecure   bool
	RequestTimeout time.Duration
}

// NewRouter assembles the gateway: middleware chain, CORS, operational
// endpoints and the console API.
func NewRouter(cfg RouterConfig, store *Store, anon *sso.Client, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	h := NewHandler(store, anon, logger, cfg.CookieSecure)
	h.Register(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}
