package sso

import (
	"context"
	"net/http"
	"strconv"

	"ssoconsole/internal/sso/models"
)

// RoleRequest is the payload for role creation and update.
type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []uint64 `json:"permissions"`
}

// ListRoles pages through roles. Admin only.
func (c *Client) ListRoles(ctx context.Context, opts ListOptions) (*models.Paginated[models.Role], error) {
	var page models.Paginated[models.Role]
	if err := c.adminJSON(ctx, http.MethodGet, "/api/roles", opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateRole creates a role. Admin only.
func (c *Client) CreateRole(ctx context.Context, req RoleRequest) error {
	return c.adminJSON(ctx, http.MethodPost, "/api/roles", nil, req, nil)
}

// UpdateRole updates a role. Admin only.
func (c *Client) UpdateRole(ctx context.Context, id uint64, req RoleRequest) error {
	return c.adminJSON(ctx, http.MethodPut, "/api/roles/"+strconv.FormatUint(id, 10), nil, req, nil)
}

// DeleteRole deletes a role. Admin only.
func (c *Client) DeleteRole(ctx context.Context, id uint64) error {
	return c.adminJSON(ctx, http.MethodDelete, "/api/roles/"+strconv.FormatUint(id, 10), nil, nil, nil)
}
