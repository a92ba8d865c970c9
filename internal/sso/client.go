// Package sso is the typed client for the SSO backend REST API. Every method
// is a thin wrapper over the session layer's authenticated dispatch, or a
// direct anonymous call for the endpoints that mint tokens in the first place.
package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ssoconsole/internal/session"
)

// Client speaks the backend API on behalf of one user agent.
type Client struct {
	session   *session.Manager
	http      *http.Client
	baseURL   string
	logger    *slog.Logger
	userAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport used for anonymous endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithUserAgent forwards the browser's User-Agent on anonymous calls. The
// backend derives device records from it, so the gateway must not stand in
// front of the real browser identity.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// New builds a Client. Authenticated calls go through sess; anonymous calls
// (login, code exchange, WebAuthn assertion) bypass it by design.
func New(baseURL string, sess *session.Manager, opts ...Option) *Client {
	c := &Client{
		session: sess,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session exposes the underlying session manager for state queries.
func (c *Client) Session() *session.Manager {
	return c.session
}

// authJSON dispatches an authenticated JSON call and decodes the response
// into out when it is non-nil. Non-2xx statuses come back as *BackendError.
func (c *Client) authJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	return c.viaSession(ctx, c.session.AuthFetch, method, path, q, in, out)
}

// adminJSON is authJSON behind the client-side admin gate.
func (c *Client) adminJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	return c.viaSession(ctx, c.session.AdminFetch, method, path, q, in, out)
}

type dispatchFunc func(context.Context, session.Request) (*http.Response, error)

func (c *Client) viaSession(ctx context.Context, dispatch dispatchFunc, method, path string, q url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	res, err := dispatch(ctx, session.Request{Method: method, Path: path, Query: q, Body: body})
	if err != nil {
		c.logger.DebugContext(ctx, "backend call failed", "method", method, "path", path, "error", err)
		return err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		be := session.DecodeBackendError(res)
		c.logger.DebugContext(ctx, "backend rejected call", "method", method, "path", path, "status", be.Status)
		return be
	}
	defer res.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// anonJSON dispatches an unauthenticated JSON call for the endpoints that
// exist before a session does.
func (c *Client) anonJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "backend call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", session.ErrNetwork, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		be := session.DecodeBackendError(res)
		c.logger.DebugContext(ctx, "backend rejected call", "method", method, "path", path, "status", be.Status)
		return be
	}
	defer res.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListOptions carries the query filters shared by the listing endpoints.
// Zero values are omitted from the query string.
type ListOptions struct {
	Search          string
	Page            int
	Size            int
	Sort            string
	Roles           []string
	IsActive        *bool
	IsEmailVerified *bool
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Size > 0 {
		q.Set("size", strconv.Itoa(o.Size))
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if roles := dedupeTrim(o.Roles); len(roles) > 0 {
		q.Set("roles", strings.Join(roles, ","))
	}
	if o.IsActive != nil {
		q.Set("is_active", strconv.FormatBool(*o.IsActive))
	}
	if o.IsEmailVerified != nil {
		q.Set("is_email_verified", strconv.FormatBool(*o.IsEmailVerified))
	}
	return q
}

// dedupeTrim drops empty and repeated role names, preserving order, so a
// sloppy caller cannot inflate the filter.
func dedupeTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
