// Package console is the browser-facing gateway. The browser never sees a
// token; it holds one HttpOnly sid cookie, and every call is translated into
// an authenticated backend dispatch through the session layer.
package console

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"ssoconsole/internal/session"
	"ssoconsole/internal/sso"
	"ssoconsole/internal/sso/models"
)

const sessionCookie = "sid"

// Handler serves the console HTTP API.
type Handler struct {
	store        *Store
	anon         *sso.Client
	logger       *slog.Logger
	cookieSecure bool
}

// NewHandler builds the console handler. anon serves the endpoints that exist
// before a session does, such as the WebAuthn assertion options.
func NewHandler(store *Store, anon *sso.Client, logger *slog.Logger, cookieSecure bool) *Handler {
	return &Handler{
		store:        store,
		anon:         anon,
		logger:       logger,
		cookieSecure: cookieSecure,
	}
}

// Register mounts all console routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/register", h.register)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Post("/email/send", h.sendLoginCode)
		r.Post("/email/check", h.checkLoginCode)
		r.Post("/recovery/send", h.sendRecovery)
		r.Post("/recovery/check", h.checkRecovery)

		r.Route("/webauthn", func(r chi.Router) {
			r.Post("/login/start", h.webauthnLoginStart)
			r.Post("/login/finish", h.webauthnLoginFinish)
			r.Post("/register/start", h.webauthnRegisterStart)
			r.Post("/register/finish", h.webauthnRegisterFinish)
		})
	})

	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.me)
		r.Get("/devices", h.listDevices)
		r.Put("/devices/{id}", h.updateDevice)
		r.Delete("/devices/{id}", h.deleteDevice)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.listUsers)
			r.Post("/", h.createUser)
			r.Get("/{id}", h.getUser)
			r.Put("/{id}", h.updateUser)
			r.Delete("/{id}", h.deleteUser)
		})
		r.Route("/roles", func(r chi.Router) {
			r.Get("/", h.listRoles)
			r.Post("/", h.createRole)
			r.Put("/{id}", h.updateRole)
			r.Delete("/{id}", h.deleteRole)
		})
		r.Route("/perm", func(r chi.Router) {
			r.Get("/", h.listPermissions)
			r.Post("/", h.createPermission)
			r.Put("/{id}", h.updatePermission)
			r.Delete("/{id}", h.deletePermission)
		})
	})
}

// errorResponse mirrors the backend's error envelope. Redirect is set only
// when the session is gone and the browser should return to the sign-in
// screen; the next parameter preserves where the user was headed.
type errorResponse struct {
	Errors   []string `json:"errors"`
	Redirect string   `json:"redirect,omitempty"`
}

// profileResponse is what every login-shaped endpoint answers with.
type profileResponse struct {
	User    *models.User `json:"user"`
	IsAdmin bool         `json:"is_admin"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []string{"malformed request body"}})
		return false
	}
	return true
}

// writeError is the one place session outcomes become HTTP statuses. A dead
// session answers 401 with a sign-in redirect that keeps the intended
// destination; a live session without the admin role answers 403 and stays on
// the page; backend business errors pass through with their own status.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var be *session.BackendError

	switch {
	case errors.Is(err, session.ErrUnauthenticated),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, ErrSessionNotFound):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{
			Errors:   []string{"sign in required"},
			Redirect: "/auth?next=" + url.QueryEscape(r.URL.RequestURI()),
		})
	case errors.Is(err, session.ErrNotAuthorized):
		h.writeJSON(w, http.StatusForbidden, errorResponse{Errors: []string{"admin role required"}})
	case errors.As(err, &be):
		h.writeJSON(w, be.Status, errorResponse{Errors: be.Errors})
	case errors.Is(err, session.ErrNetwork):
		h.logger.ErrorContext(r.Context(), "backend unreachable", "error", err)
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Errors: []string{"backend unreachable"}})
	default:
		h.logger.ErrorContext(r.Context(), "unhandled console error", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []string{"internal error"}})
	}
}

func (h *Handler) setCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// client resolves the sid cookie to a live backend client. On failure it has
// already written the 401 response.
func (h *Handler) client(w http.ResponseWriter, r *http.Request) (*sso.Client, string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		h.writeError(w, r, session.ErrUnauthenticated)
		return nil, "", false
	}
	cl, err := h.store.Get(c.Value)
	if err != nil {
		h.clearCookie(w)
		h.writeError(w, r, err)
		return nil, "", false
	}
	return cl, c.Value, true
}

// fail routes a backend-call error to the browser. When the session layer
// declared the session dead, the store entry and cookie go with it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, sid string, err error) {
	if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrUnauthenticated) {
		h.store.Delete(sid)
		h.clearCookie(w)
	}
	h.writeError(w, r, err)
}

// establish answers a successful login: cookie set, profile returned. The
// browser identity is logged in parsed form so device-binding issues can be
// chased without grepping raw UA strings.
func (h *Handler) establish(w http.ResponseWriter, r *http.Request, sid string, cl *sso.Client) {
	ua := useragent.New(r.UserAgent())
	browser, version := ua.Browser()
	h.logger.InfoContext(r.Context(), "session established",
		"browser", browser,
		"browser_version", version,
		"os", ua.OS(),
		"mobile", ua.Mobile(),
	)

	h.setCookie(w, sid)
	h.writeJSON(w, http.StatusOK, profileResponse{
		User:    cl.Session().User(),
		IsAdmin: cl.Session().IsAdmin(),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sid, cl := h.store.Create(r.UserAgent())
	if err := cl.LoginPassword(r.Context(), req.Email, req.Password); err != nil {
		h.store.Delete(sid)
		h.writeError(w, r, err)
		return
	}
	h.establish(w, r, sid, cl)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req sso.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.anon.Register(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) sendRecovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.anon.SendRecoveryEmail(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkRecovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string    `json:"password"`
		ID       uuid.UUID `json:"uidb64"`
		Token    int       `json:"token"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.anon.CheckRecovery(r.Context(), req.Password, req.ID, req.Token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if cl, err := h.store.Get(c.Value); err == nil {
			cl.Logout(r.Context())
		}
		h.store.Delete(c.Value)
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendLoginCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.anon.SendLoginCode(r.Context(), req.Email, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkLoginCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  int    `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sid, cl := h.store.Create(r.UserAgent())
	if err := cl.CheckLoginCode(r.Context(), req.Email, req.Code); err != nil {
		h.store.Delete(sid)
		h.writeError(w, r, err)
		return
	}
	h.establish(w, r, sid, cl)
}

func (h *Handler) webauthnLoginStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	assertion, err := h.anon.WebAuthnLoginStart(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, assertion)
}

func (h *Handler) webauthnLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string          `json:"email"`
		Credential json.RawMessage `json:"credential"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sid, cl := h.store.Create(r.UserAgent())
	if err := cl.WebAuthnLoginFinish(r.Context(), req.Email, req.Credential); err != nil {
		h.store.Delete(sid)
		h.writeError(w, r, err)
		return
	}
	h.establish(w, r, sid, cl)
}

func (h *Handler) webauthnRegisterStart(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	creation, err := cl.WebAuthnRegisterStart(r.Context())
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, creation)
}

func (h *Handler) webauthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	var req struct {
		Credential json.RawMessage `json:"credential"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.WebAuthnRegisterFinish(r.Context(), req.Credential); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	u, err := cl.Me(r.Context())
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profileResponse{User: u, IsAdmin: cl.Session().IsAdmin()})
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	devices, err := cl.ListDevices(r.Context())
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, devices)
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	var req sso.UpdateDeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.UpdateDevice(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := cl.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseListOptions lifts the shared listing filters out of the query string.
func parseListOptions(r *http.Request) sso.ListOptions {
	q := r.URL.Query()
	opts := sso.ListOptions{
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.Size, _ = strconv.Atoi(q.Get("size"))
	if v := q.Get("roles"); v != "" {
		opts.Roles = strings.Split(v, ",")
	}
	if v := q.Get("is_active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			opts.IsActive = &b
		}
	}
	if v := q.Get("is_email_verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			opts.IsEmailVerified = &b
		}
	}
	return opts
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	page, err := cl.ListUsers(r.Context(), parseListOptions(r))
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []string{"malformed user id"}})
		return
	}
	u, err := cl.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	var req sso.CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := cl.CreateUser(r.Context(), req)
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []string{"malformed user id"}})
		return
	}
	var req sso.UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.UpdateUser(r.Context(), id, req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []string{"malformed user id"}})
		return
	}
	if err := cl.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// numericParam parses the {id} parameter shared by role and permission routes.
func (h *Handler) numericParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Errors: []string{"malformed id"}})
		return 0, false
	}
	return id, true
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	page, err := cl.ListRoles(r.Context(), parseListOptions(r))
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	var req sso.RoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.CreateRole(r.Context(), req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, ok := h.numericParam(w, r)
	if !ok {
		return
	}
	var req sso.RoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.UpdateRole(r.Context(), id, req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, ok := h.numericParam(w, r)
	if !ok {
		return
	}
	if err := cl.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	page, err := cl.ListPermissions(r.Context(), parseListOptions(r))
	if err != nil {
		h.fail(w, r, sid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	var req sso.PermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.CreatePermission(r.Context(), req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, ok := h.numericParam(w, r)
	if !ok {
		return
	}
	var req sso.PermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := cl.UpdatePermission(r.Context(), id, req); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	cl, sid, ok := h.client(w, r)
	if !ok {
		return
	}
	id, ok := h.numericParam(w, r)
	if !ok {
		return
	}
	if err := cl.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, r, sid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
