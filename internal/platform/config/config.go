package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures everything the console gateway needs at startup.
type Config struct {
	// Addr is the listen address of the gateway itself.
	Addr string
	// BackendURL is the base URL of the SSO backend REST API.
	BackendURL string
	// AllowedOrigins feeds the CORS layer; the browser app may be served
	// from a different origin than the gateway.
	AllowedOrigins []string
	// SessionTTL is how long an idle browser session is kept before the
	// in-memory store evicts it.
	SessionTTL time.Duration
	// RefreshTimeout bounds the silent token refresh round trip.
	RefreshTimeout time.Duration
	// RefreshLeeway is how close to expiry an access token is refreshed
	// proactively instead of being dispatched.
	RefreshLeeway time.Duration
	// CookieSecure toggles the Secure attribute on the sid cookie; off only
	// for plain-HTTP development setups.
	CookieSecure bool
}

// Load reads an optional .env file and builds the Config from environment
// variables so main stays lean.
func Load() Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		Addr:           envString("CONSOLE_ADDR", ":8085"),
		BackendURL:     envString("CONSOLE_BACKEND_URL", "http://localhost:8080"),
		AllowedOrigins: envList("CONSOLE_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		SessionTTL:     envDuration("CONSOLE_SESSION_TTL", 12*time.Hour),
		RefreshTimeout: envDuration("CONSOLE_REFRESH_TIMEOUT", 10*time.Second),
		RefreshLeeway:  envDuration("CONSOLE_REFRESH_LEEWAY", 30*time.Second),
		CookieSecure:   envBool("CONSOLE_COOKIE_SECURE", true),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
