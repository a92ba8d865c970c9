package sso

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"ssoconsole/internal/sso/models"
)

// CreateUserRequest is the admin user-creation payload.
type CreateUserRequest struct {
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Email    string   `json:"email"`
	Avatar   string   `json:"avatar"`
	Roles    []uint64 `json:"roles"`
}

// UpdateUserRequest is the admin user-update payload.
type UpdateUserRequest struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Avatar          string   `json:"avatar"`
	Roles           []uint64 `json:"roles"`
	IsActive        bool     `json:"is_active"`
	IsEmailVerified bool     `json:"is_email_verified"`
}

type createUserResponse struct {
	ID uuid.UUID `json:"id"`
}

// RegisterRequest is the anonymous self-registration payload.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account without a session. The same backend endpoint
// serves admin user creation, but the anonymous form carries no roles and no
// bearer token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.anonJSON(ctx, http.MethodPost, "/api/users", req, nil)
}

// Me syncs and returns the caller's own profile. It shares the session's
// profile snapshot rather than holding a second copy, so the admin flag and
// the returned value can never disagree.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	if err := c.session.SyncProfile(ctx); err != nil {
		return nil, err
	}
	return c.session.User(), nil
}

// ListUsers pages through users with the given filters. Admin only.
func (c *Client) ListUsers(ctx context.Context, opts ListOptions) (*models.Paginated[models.User], error) {
	var page models.Paginated[models.User]
	if err := c.adminJSON(ctx, http.MethodGet, "/api/users", opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetUser fetches one user by id. Admin only.
func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := c.adminJSON(ctx, http.MethodGet, "/api/users/"+id.String(), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a user and returns the new id. Admin only.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (uuid.UUID, error) {
	var res createUserResponse
	if err := c.adminJSON(ctx, http.MethodPost, "/api/users", nil, req, &res); err != nil {
		return uuid.Nil, err
	}
	return res.ID, nil
}

// UpdateUser updates a user. Admin only.
func (c *Client) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) error {
	return c.adminJSON(ctx, http.MethodPut, "/api/users/"+id.String(), nil, req, nil)
}

// DeleteUser deletes a user. Admin only.
func (c *Client) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return c.adminJSON(ctx, http.MethodDelete, "/api/users/"+id.String(), nil, nil, nil)
}
