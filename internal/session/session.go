// Package session owns the access/refresh token pair for one signed-in user
// and wraps every outbound backend call with bearer authorization, silent
// re-authentication and a single bounded retry. All token mutation goes
// through Login, refresh and Logout so the derived admin flag can never drift
// from the profile it was computed from.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ssoconsole/internal/session/metrics"
	"ssoconsole/internal/sso/models"
)

// StatusTokenRejected is the one status code the session layer reads as "the
// presented access token was not accepted" and answers with a silent refresh.
// The backend contract pins this to 401; a 403 is an authorization decision
// about a valid token and passes through to the caller untouched.
const StatusTokenRejected = http.StatusUnauthorized

const (
	refreshPath = "/api/auth/jwt/refresh"
	logoutPath  = "/api/auth/logout"
	mePath      = "/api/users/me"

	defaultUserAgent      = "sso-console/1.0"
	defaultRefreshTimeout = 10 * time.Second
	defaultRefreshLeeway  = 30 * time.Second
)

// Request describes one backend call. Callers hand the session layer a
// descriptor instead of a built *http.Request so the dispatch can be replayed
// verbatim after a token refresh.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Manager holds the session state for a single user agent and provides the
// authenticated dispatch primitives every console screen goes through.
type Manager struct {
	client         *http.Client
	baseURL        string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	userAgent      string
	refreshTimeout time.Duration
	refreshLeeway  time.Duration

	// group funnels concurrent refresh attempts into one in-flight call.
	group singleflight.Group
	// profileStale flips to true when a refresh rotated the pair mid-session,
	// so the next dispatch re-syncs the profile exactly once.
	profileStale atomic.Bool

	mu      sync.RWMutex
	access  string
	refresh string
	user    *models.User
	isAdmin bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the transport used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches session metrics. Managers created per user agent may
// share one instance.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithUserAgent sets the client-identifying header sent on every dispatch.
func WithUserAgent(ua string) Option {
	return func(m *Manager) { m.userAgent = ua }
}

// WithRefreshTimeout bounds the silent refresh call. A timeout counts as
// refresh failure and ends the session.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

// WithRefreshLeeway sets how close to its exp claim an access token is still
// considered usable. Zero disables the proactive refresh path.
func WithRefreshLeeway(d time.Duration) Option {
	return func(m *Manager) { m.refreshLeeway = d }
}

// New builds a Manager for the backend at baseURL. The zero session is
// unauthenticated until Login succeeds.
func New(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		client:         &http.Client{Timeout: 30 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		logger:         slog.Default(),
		tracer:         otel.Tracer("ssoconsole/internal/session"),
		userAgent:      defaultUserAgent,
		refreshTimeout: defaultRefreshTimeout,
		refreshLeeway:  defaultRefreshLeeway,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticated reports whether an access token is currently held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access != ""
}

// IsAdmin reports whether the current profile carries the admin role. It is
// recomputed on every profile sync and never set independently.
func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isAdmin
}

// User returns the profile snapshot fetched for the current token lifetime,
// or nil when unauthenticated. The snapshot is read-only.
func (m *Manager) User() *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// AuthFetch dispatches r with the held access token. On the token-rejected
// status it performs exactly one shared refresh and one retry; a second
// rejection ends the session with ErrSessionExpired. Every other status,
// including business-level errors, is returned to the caller unchanged.
func (m *Manager) AuthFetch(ctx context.Context, r Request) (*http.Response, error) {
	if r.Header.Get("Authorization") != "" {
		return nil, errors.New("session: caller must not set the Authorization header")
	}

	access, held := m.currentAccess()
	if !held {
		return nil, ErrUnauthenticated
	}

	// Spend the one refresh this call is allowed on a token that is about to
	// expire anyway instead of on a guaranteed rejection round trip.
	refreshed := false
	if expiresWithinLeeway(access, m.refreshLeeway, time.Now()) {
		var err error
		if access, err = m.refreshAccess(ctx, access); err != nil {
			return nil, err
		}
		refreshed = true
	}

	res, err := m.dispatch(ctx, r, access)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if res.StatusCode != StatusTokenRejected {
		return m.finish(ctx, res)
	}

	m.metrics.IncrementTokenRejection()
	drain(res)

	if refreshed {
		// The token was minted moments ago and still rejected; refreshing
		// again cannot help.
		m.clearSession()
		return nil, ErrSessionExpired
	}

	access, err = m.refreshAccess(ctx, access)
	if err != nil {
		return nil, err
	}

	res, err = m.dispatch(ctx, r, access)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if res.StatusCode == StatusTokenRejected {
		m.metrics.IncrementTokenRejection()
		drain(res)
		m.clearSession()
		return nil, ErrSessionExpired
	}
	return m.finish(ctx, res)
}

// AdminFetch dispatches r only when the current profile carries the admin
// role. The gate exists to spare round trips and give immediate feedback; it
// is not a security boundary, the backend authorizes every call on its own.
func (m *Manager) AdminFetch(ctx context.Context, r Request) (*http.Response, error) {
	if !m.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	return m.AuthFetch(ctx, r)
}

// Login stores a freshly minted token pair and syncs the profile snapshot.
// A profile fetch failure invalidates the session again.
func (m *Manager) Login(ctx context.Context, pair models.TokenPair) error {
	m.mu.Lock()
	m.access, m.refresh = pair.Access, pair.Refresh
	m.user, m.isAdmin = nil, false
	m.mu.Unlock()

	if err := m.SyncProfile(ctx); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "session established")
	return nil
}

// Logout invalidates the session server-side on a best-effort basis and
// always clears all local state.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.RLock()
	access := m.access
	m.mu.RUnlock()

	if access != "" {
		res, err := m.dispatch(ctx, Request{Method: http.MethodPost, Path: logoutPath}, access)
		if err != nil {
			m.logger.DebugContext(ctx, "backend logout failed", "error", err)
		} else {
			drain(res)
		}
	}
	m.clearSession()
}

// SyncProfile fetches the caller's profile through the authenticated dispatch
// and recomputes the derived admin flag. Any failure is treated as an invalid
// session and clears it.
func (m *Manager) SyncProfile(ctx context.Context) error {
	res, err := m.AuthFetch(ctx, Request{Method: http.MethodGet, Path: mePath})
	if err != nil {
		m.clearSession()
		return err
	}
	if res.StatusCode != http.StatusOK {
		be := DecodeBackendError(res)
		m.clearSession()
		return fmt.Errorf("%w: profile fetch: %v", ErrSessionExpired, be)
	}

	var u models.User
	err = json.NewDecoder(res.Body).Decode(&u)
	res.Body.Close()
	if err != nil {
		m.clearSession()
		return fmt.Errorf("%w: decode profile: %v", ErrSessionExpired, err)
	}

	m.mu.Lock()
	m.user = &u
	m.isAdmin = u.HasRole(models.AdminRoleName)
	m.mu.Unlock()
	return nil
}

// finish re-syncs the profile once after a rotation before handing the
// response back, so the admin flag tracks the token lifetime it belongs to.
func (m *Manager) finish(ctx context.Context, res *http.Response) (*http.Response, error) {
	if m.profileStale.CompareAndSwap(true, false) {
		if err := m.SyncProfile(ctx); err != nil {
			drain(res)
			return nil, err
		}
	}
	return res, nil
}

func (m *Manager) dispatch(ctx context.Context, r Request, access string) (*http.Response, error) {
	ctx, span := m.tracer.Start(ctx, "session.dispatch", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.Path),
	))
	defer span.End()

	u := m.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	res, err := m.client.Do(req)
	m.metrics.ObserveDispatch(r.Method, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	return res, nil
}

func (m *Manager) currentAccess() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access, m.access != ""
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	m.access, m.refresh = "", ""
	m.user, m.isAdmin = nil, false
	m.mu.Unlock()
	m.profileStale.Store(false)
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	res.Body.Close()
}
