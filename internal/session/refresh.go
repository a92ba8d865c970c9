package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ssoconsole/internal/sso/models"
)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// refreshAccess trades the held refresh token for a new access token. All
// concurrent callers share a single in-flight refresh; whoever raced an
// already-completed rotation reuses the rotated token instead of spending the
// prior refresh token a second time.
func (m *Manager) refreshAccess(ctx context.Context, stale string) (string, error) {
	if cur, held := m.currentAccess(); held && cur != stale {
		return cur, nil
	}

	// The shared call must not die with the first caller that gives up.
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doRefresh performs the actual refresh round trip. Any failure mode, the
// rejection of the refresh token, a transport error or the timeout, ends the
// session: a user agent that cannot re-authenticate silently has to go back
// through login.
func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refresh := m.refresh
	m.mu.RUnlock()
	if refresh == "" {
		m.clearSession()
		return "", ErrSessionExpired
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "session.refresh")
	defer span.End()

	body, err := json.Marshal(refreshRequest{Refresh: refresh})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.userAgent)

	res, err := m.client.Do(req)
	if err != nil {
		m.metrics.IncrementRefresh("transport_error")
		m.clearSession()
		span.RecordError(err)
		m.logger.WarnContext(ctx, "token refresh failed", "error", err)
		return "", fmt.Errorf("%w: refresh: %v", ErrSessionExpired, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		m.metrics.IncrementRefresh("rejected")
		m.clearSession()
		m.logger.WarnContext(ctx, "refresh token rejected", "status", res.StatusCode)
		return "", ErrSessionExpired
	}

	var pair models.TokenPair
	if err := json.NewDecoder(res.Body).Decode(&pair); err != nil || pair.Access == "" {
		m.metrics.IncrementRefresh("transport_error")
		m.clearSession()
		return "", fmt.Errorf("%w: decode refresh response", ErrSessionExpired)
	}

	m.mu.Lock()
	m.access = pair.Access
	if pair.Refresh != "" {
		// Rotation: the backend may hand back a new refresh token with every use.
		m.refresh = pair.Refresh
	}
	m.mu.Unlock()
	m.profileStale.Store(true)

	m.metrics.IncrementRefresh("success")
	m.logger.DebugContext(ctx, "access token refreshed")
	return pair.Access, nil
}
