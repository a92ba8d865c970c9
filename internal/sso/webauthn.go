package sso

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-webauthn/webauthn/protocol"

	"ssoconsole/internal/sso/models"
)

// The console's part in a WebAuthn ceremony is bridging: the backend mints the
// challenge options, the browser's credential API answers them, and the
// console relays the answer back untouched. Options are still decoded into
// protocol types on the way through so a malformed ceremony fails here with a
// usable error instead of deep inside the browser call.

var errMissingChallenge = errors.New("webauthn: ceremony options carry no challenge")

type webauthnStartRequest struct {
	Email string `json:"email"`
}

// WebAuthnLoginStart begins an assertion ceremony for email. Anonymous: this
// is a login path.
func (c *Client) WebAuthnLoginStart(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	var assertion protocol.CredentialAssertion
	err := c.anonJSON(ctx, http.MethodPost, "/api/auth/webauthn/login/start", webauthnStartRequest{Email: email}, &assertion)
	if err != nil {
		return nil, err
	}
	if len(assertion.Response.Challenge) == 0 {
		return nil, errMissingChallenge
	}
	return &assertion, nil
}

// WebAuthnLoginFinish relays the browser's assertion response and establishes
// the session from the returned token pair.
func (c *Client) WebAuthnLoginFinish(ctx context.Context, email string, credential json.RawMessage) error {
	if len(credential) == 0 {
		return errors.New("webauthn: empty credential response")
	}

	path := "/api/auth/webauthn/login/finish?" + url.Values{"email": {email}}.Encode()
	var pair models.TokenPair
	if err := c.anonJSON(ctx, http.MethodPost, path, credential, &pair); err != nil {
		return err
	}
	return c.session.Login(ctx, pair)
}

// WebAuthnRegisterStart begins an attestation ceremony for the signed-in user.
func (c *Client) WebAuthnRegisterStart(ctx context.Context) (*protocol.CredentialCreation, error) {
	var creation protocol.CredentialCreation
	err := c.authJSON(ctx, http.MethodPost, "/api/auth/webauthn/register/start", nil, nil, &creation)
	if err != nil {
		return nil, err
	}
	if len(creation.Response.Challenge) == 0 {
		return nil, errMissingChallenge
	}
	return &creation, nil
}

// WebAuthnRegisterFinish relays the browser's attestation response. On
// success the profile is re-synced so the credential shows up immediately.
func (c *Client) WebAuthnRegisterFinish(ctx context.Context, credential json.RawMessage) error {
	if len(credential) == 0 {
		return errors.New("webauthn: empty credential response")
	}
	if err := c.authJSON(ctx, http.MethodPost, "/api/auth/webauthn/register/finish", nil, credential, nil); err != nil {
		return err
	}
	return c.session.SyncProfile(ctx)
}
