package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssoconsole/internal/platform/metrics"
	"ssoconsole/internal/session"
	"ssoconsole/internal/sso"
	"ssoconsole/internal/sso/models"
)

// Prometheus collectors register globally, so the whole test binary shares one
// instance.
var testMetrics = metrics.New()

type fakeBackend struct {
	srv      *httptest.Server
	userHits atomic.Int32
	revoked  atomic.Bool

	mu         sync.Mutex
	loginUA    string
	meUA       string
	deviceName string

	access  string
	refresh string
	user    models.User
}

func newFakeBackend(t *testing.T, admin bool) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		access:  "access-0",
		refresh: "refresh-0",
		user: models.User{
			ID:    uuid.New(),
			Name:  "alice",
			Email: "alice@example.com",
			Roles: []models.Role{{ID: 1, Name: "user"}},
		},
	}
	if admin {
		b.user.Roles = append(b.user.Roles, models.Role{ID: 2, Name: models.AdminRoleName})
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/jwt", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.loginUA = r.UserAgent()
		b.mu.Unlock()

		var req struct {
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "correct" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {"invalid credentials"}})
			return
		}
		_ = json.NewEncoder(w).Encode(models.TokenPair{Access: b.access, Refresh: b.refresh})
	})

	mux.HandleFunc("POST /api/auth/jwt/refresh", func(w http.ResponseWriter, r *http.Request) {
		if b.revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {"refresh token revoked"}})
			return
		}
		_ = json.NewEncoder(w).Encode(models.TokenPair{Access: b.access, Refresh: b.refresh})
	})

	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.meUA = r.UserAgent()
		b.mu.Unlock()

		if b.revoked.Load() || r.Header.Get("Authorization") != "Bearer "+b.access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(b.user)
	})

	mux.HandleFunc("POST /api/users", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {"email failed on the required rule"}})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": uuid.NewString()})
	})

	mux.HandleFunc("POST /api/auth/recovery/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/auth/recovery/check", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token int `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token == 0 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string][]string{"errors": {"invalid recovery token"}})
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PUT /api/device/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+b.access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.deviceName = req.Name
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		b.userHits.Add(1)
		_ = json.NewEncoder(w).Encode(models.Paginated[models.User]{
			Data:        []models.User{b.user},
			Count:       1,
			TotalPages:  1,
			CurrentPage: 1,
		})
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

type consoleFixture struct {
	backend *fakeBackend
	store   *Store
	srv     *httptest.Server
	client  *http.Client
}

func newConsoleFixture(t *testing.T, admin bool) *consoleFixture {
	t.Helper()
	b := newFakeBackend(t, admin)
	log := slog.New(slog.DiscardHandler)

	factory := func(ua string) *sso.Client {
		sessOpts := []session.Option{session.WithLogger(log)}
		clientOpts := []sso.Option{sso.WithLogger(log)}
		if ua != "" {
			sessOpts = append(sessOpts, session.WithUserAgent(ua))
			clientOpts = append(clientOpts, sso.WithUserAgent(ua))
		}
		return sso.New(b.srv.URL, session.New(b.srv.URL, sessOpts...), clientOpts...)
	}
	store := NewStore(time.Hour, factory, log, testMetrics)
	anon := factory("")

	router := NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		CookieSecure:   false,
	}, store, anon, log, testMetrics)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &consoleFixture{
		backend: b,
		store:   store,
		srv:     srv,
		client:  &http.Client{Jar: jar},
	}
}

func (f *consoleFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := f.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (f *consoleFixture) login(t *testing.T) {
	t.Helper()
	res := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func decodeErrors(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func TestLogin(t *testing.T) {
	t.Run("establishes a session behind an HttpOnly cookie", func(t *testing.T) {
		f := newConsoleFixture(t, true)

		res := f.do(t, http.MethodPost, "/auth/login", map[string]string{
			"email":    "alice@example.com",
			"password": "correct",
		})
		require.Equal(t, http.StatusOK, res.StatusCode)

		var sid *http.Cookie
		for _, c := range res.Cookies() {
			if c.Name == sessionCookie {
				sid = c
			}
		}
		require.NotNil(t, sid, "login must set the sid cookie")
		assert.True(t, sid.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, sid.SameSite)
		assert.NotContains(t, sid.Value, "access", "tokens never reach the browser")

		var profile profileResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&profile))
		assert.True(t, profile.IsAdmin)
		assert.Equal(t, "alice", profile.User.Name)
		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("bad credentials pass the backend error through and keep no session", func(t *testing.T) {
		f := newConsoleFixture(t, false)

		res := f.do(t, http.MethodPost, "/auth/login", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
		assert.Equal(t, []string{"invalid credentials"}, decodeErrors(t, res).Errors)
		assert.Zero(t, f.store.Len())
	})

	t.Run("malformed body is rejected before touching the backend", func(t *testing.T) {
		f := newConsoleFixture(t, false)

		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/auth/login", bytes.NewBufferString("{"))
		require.NoError(t, err)
		res, err := f.client.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestMe(t *testing.T) {
	f := newConsoleFixture(t, false)
	f.login(t)

	res := f.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var profile profileResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&profile))
	assert.Equal(t, "alice@example.com", profile.User.Email)
	assert.False(t, profile.IsAdmin)
}

func TestRedirectPreservesDestination(t *testing.T) {
	f := newConsoleFixture(t, true)

	res := f.do(t, http.MethodGet, "/admin/users?page=2&sort=name", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	body := decodeErrors(t, res)
	require.NotEmpty(t, body.Redirect)

	u, err := url.Parse(body.Redirect)
	require.NoError(t, err)
	assert.Equal(t, "/auth", u.Path)
	assert.Equal(t, "/admin/users?page=2&sort=name", u.Query().Get("next"),
		"the sign-in redirect must carry the intended destination")
}

func TestAdminGate(t *testing.T) {
	t.Run("non-admin gets 403 without a backend round trip", func(t *testing.T) {
		f := newConsoleFixture(t, false)
		f.login(t)

		res := f.do(t, http.MethodGet, "/admin/users", nil)
		require.Equal(t, http.StatusForbidden, res.StatusCode)

		body := decodeErrors(t, res)
		assert.Equal(t, []string{"admin role required"}, body.Errors)
		assert.Empty(t, body.Redirect, "a 403 stays on the page")
		assert.Zero(t, f.backend.userHits.Load())
	})

	t.Run("admin lists users", func(t *testing.T) {
		f := newConsoleFixture(t, true)
		f.login(t)

		res := f.do(t, http.MethodGet, "/admin/users?search=ali", nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		var page models.Paginated[models.User]
		require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
		assert.Len(t, page.Data, 1)
	})
}

func TestLogout(t *testing.T) {
	f := newConsoleFixture(t, false)
	f.login(t)
	require.Equal(t, 1, f.store.Len())

	res := f.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Zero(t, f.store.Len())

	res = f.do(t, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLoginForwardsBrowserUserAgent(t *testing.T) {
	const browserUA = "Mozilla/5.0 (X11; Linux x86_64) TestBrowser/1.0"
	f := newConsoleFixture(t, false)

	body, err := json.Marshal(map[string]string{"email": "alice@example.com", "password": "correct"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/auth/login", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)

	res, err := f.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	f.backend.mu.Lock()
	loginUA, meUA := f.backend.loginUA, f.backend.meUA
	f.backend.mu.Unlock()
	assert.Equal(t, browserUA, loginUA, "the token mint must see the browser, not the gateway")
	assert.Equal(t, browserUA, meUA, "authenticated dispatches must carry the browser identity")

	// Later calls reuse the identity captured at session creation.
	res2 := f.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, res2.StatusCode)
	f.backend.mu.Lock()
	meUA = f.backend.meUA
	f.backend.mu.Unlock()
	assert.Equal(t, browserUA, meUA)
}

func TestRevokedSessionIsEvicted(t *testing.T) {
	f := newConsoleFixture(t, false)
	f.login(t)
	require.Equal(t, 1, f.store.Len())

	f.backend.revoked.Store(true)

	res := f.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.NotEmpty(t, decodeErrors(t, res).Redirect, "a dead session sends the browser back to sign-in")
	assert.Zero(t, f.store.Len(), "the revoked session must leave the store")

	cleared := false
	for _, c := range res.Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "the sid cookie must be evicted with the session")
}

func TestRegister(t *testing.T) {
	t.Run("creates an account anonymously", func(t *testing.T) {
		f := newConsoleFixture(t, false)

		res := f.do(t, http.MethodPost, "/register", map[string]string{
			"name":     "bob",
			"email":    "bob@example.com",
			"password": "hunter2hunter2",
		})
		assert.Equal(t, http.StatusCreated, res.StatusCode)
		assert.Zero(t, f.store.Len(), "registration does not establish a session")
	})

	t.Run("validation errors pass through", func(t *testing.T) {
		f := newConsoleFixture(t, false)

		res := f.do(t, http.MethodPost, "/register", map[string]string{"name": "bob"})
		require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
		assert.Contains(t, decodeErrors(t, res).Errors[0], "required")
	})
}

func TestPasswordRecovery(t *testing.T) {
	f := newConsoleFixture(t, false)

	res := f.do(t, http.MethodPost, "/auth/recovery/send", map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(t, http.MethodPost, "/auth/recovery/check", map[string]any{
		"password": "new-password",
		"uidb64":   uuid.NewString(),
		"token":    123456,
	})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(t, http.MethodPost, "/auth/recovery/check", map[string]any{
		"password": "new-password",
		"uidb64":   uuid.NewString(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Contains(t, decodeErrors(t, res).Errors[0], "invalid")
}

func TestDeviceRename(t *testing.T) {
	f := newConsoleFixture(t, false)
	f.login(t)

	res := f.do(t, http.MethodPut, "/me/devices/dev-1", map[string]string{"name": "work laptop"})
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	f.backend.mu.Lock()
	name := f.backend.deviceName
	f.backend.mu.Unlock()
	assert.Equal(t, "work laptop", name)
}

func TestStaleCookieIsCleared(t *testing.T) {
	f := newConsoleFixture(t, false)

	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	f.client.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: "gone", Path: "/"}})

	res := f.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.NotEmpty(t, decodeErrors(t, res).Redirect)

	cleared := false
	for _, c := range res.Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "an unknown sid must be evicted from the browser")
}

func TestHealth(t *testing.T) {
	f := newConsoleFixture(t, false)

	res := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStoreSweep(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	store := NewStore(time.Minute, func(string) *sso.Client {
		return sso.New("http://backend.invalid", session.New("http://backend.invalid"))
	}, log, testMetrics)

	var sids []string
	for i := 0; i < 3; i++ {
		sid, _ := store.Create("")
		sids = append(sids, sid)
	}
	require.Equal(t, 3, store.Len())

	// Touch one entry so only the idle ones go.
	time.Sleep(100 * time.Millisecond)
	_, err := store.Get(sids[2])
	require.NoError(t, err)

	cutoff := time.Now().Add(time.Minute).Add(-50 * time.Millisecond)
	evicted := store.sweep(cutoff)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(sids[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(sids[2])
	assert.NoError(t, err)
}

func TestParseListOptions(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/admin/users?search=bob&page=3&size=10&sort=-created_at&roles=user,admin&is_active=true", nil)

	opts := parseListOptions(req)
	assert.Equal(t, "bob", opts.Search)
	assert.Equal(t, 3, opts.Page)
	assert.Equal(t, 10, opts.Size)
	assert.Equal(t, "-created_at", opts.Sort)
	assert.Equal(t, []string{"user", "admin"}, opts.Roles)
	require.NotNil(t, opts.IsActive)
	assert.True(t, *opts.IsActive)
	assert.Nil(t, opts.IsEmailVerified)
}

func ExampleStore() {
	store := NewStore(time.Hour, func(string) *sso.Client {
		return sso.New("http://backend.invalid", session.New("http://backend.invalid"))
	}, slog.New(slog.DiscardHandler), nil)

	sid, _ := store.Create("")
	_, err := store.Get(sid)
	fmt.Println(err)
	// Output: <nil>
}
