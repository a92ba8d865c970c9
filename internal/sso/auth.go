package sso

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"ssoconsole/internal/sso/models"
)

type passwordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sendLoginCodeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type checkLoginCodeRequest struct {
	Email string `json:"email"`
	Code  int    `json:"code"`
}

// LoginPassword exchanges email+password for a token pair and establishes the
// session, which includes the initial profile sync.
func (c *Client) LoginPassword(ctx context.Context, email, password string) error {
	var pair models.TokenPair
	err := c.anonJSON(ctx, http.MethodPost, "/api/auth/jwt", passwordLoginRequest{Email: email, Password: password}, &pair)
	if err != nil {
		return err
	}
	return c.session.Login(ctx, pair)
}

// SendLoginCode asks the backend to mail a one-time login code.
func (c *Client) SendLoginCode(ctx context.Context, email, password string) error {
	return c.anonJSON(ctx, http.MethodPost, "/api/auth/email/send", sendLoginCodeRequest{Email: email, Password: password}, nil)
}

// CheckLoginCode trades a one-time code for a token pair and establishes the
// session.
func (c *Client) CheckLoginCode(ctx context.Context, email string, code int) error {
	var pair models.TokenPair
	err := c.anonJSON(ctx, http.MethodPost, "/api/auth/email/check", checkLoginCodeRequest{Email: email, Code: code}, &pair)
	if err != nil {
		return err
	}
	return c.session.Login(ctx, pair)
}

// Logout tears the session down, backend-side best-effort and locally always.
func (c *Client) Logout(ctx context.Context) {
	c.session.Logout(ctx)
}

type sendRecoveryRequest struct {
	Email string `json:"email"`
}

// checkRecoveryRequest carries the fields from the mailed reset link (uidb64,
// token) plus the replacement password.
type checkRecoveryRequest struct {
	Password string    `json:"password"`
	ID       uuid.UUID `json:"uidb64"`
	Token    int       `json:"token"`
}

// SendRecoveryEmail asks the backend to mail a password-reset link.
func (c *Client) SendRecoveryEmail(ctx context.Context, email string) error {
	return c.anonJSON(ctx, http.MethodPost, "/api/auth/recovery/send", sendRecoveryRequest{Email: email}, nil)
}

// CheckRecovery completes a password reset with the mailed uidb64/token pair.
// No session is established; the user signs in with the new password.
func (c *Client) CheckRecovery(ctx context.Context, password string, id uuid.UUID, token int) error {
	return c.anonJSON(ctx, http.MethodPost, "/api/auth/recovery/check", checkRecoveryRequest{
		Password: password,
		ID:       id,
		Token:    token,
	}, nil)
}
