package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors for the session layer. Callers branch on these with errors.Is
// and translate them into transport responses; they never carry business meaning.
//
// - ErrUnauthenticated: no access token is held, the call was never dispatched
// - ErrSessionExpired: refresh failed, or the retried call was rejected again
// - ErrNotAuthorized: the client-side admin gate refused the call
// - ErrNetwork: the transport failed before a status code was produced
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSessionExpired  = errors.New("session expired")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNetwork         = errors.New("network error")
)

// BackendError carries the machine-readable error list the backend attaches to
// non-2xx responses. The session layer surfaces it unchanged; rendering the
// messages is the caller's concern.
type BackendError struct {
	Status int
	Errors []string
}

func (e *BackendError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, strings.Join(e.Errors, "; "))
}

// DecodeBackendError drains res and builds a BackendError from its payload.
// The body is consumed and closed.
func DecodeBackendError(res *http.Response) *BackendError {
	defer res.Body.Close()

	be := &BackendError{Status: res.StatusCode}
	var payload struct {
		Errors []string `json:"errors"`
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err == nil && json.Unmarshal(body, &payload) == nil {
		be.Errors = payload.Errors
	}
	return be
}
