package sso

import (
	"context"
	"net/http"
	"strconv"

	"ssoconsole/internal/sso/models"
)

// PermissionRequest is the payload for permission creation and update.
type PermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListPermissions pages through permissions. Admin only.
func (c *Client) ListPermissions(ctx context.Context, opts ListOptions) (*models.Paginated[models.Permission], error) {
	var page models.Paginated[models.Permission]
	if err := c.adminJSON(ctx, http.MethodGet, "/api/perm", opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreatePermission creates a permission. Admin only.
func (c *Client) CreatePermission(ctx context.Context, req PermissionRequest) error {
	return c.adminJSON(ctx, http.MethodPost, "/api/perm", nil, req, nil)
}

// UpdatePermission updates a permission. Admin only.
func (c *Client) UpdatePermission(ctx context.Context, id uint64, req PermissionRequest) error {
	return c.adminJSON(ctx, http.MethodPut, "/api/perm/"+strconv.FormatUint(id, 10), nil, req, nil)
}

// DeletePermission deletes a permission. Admin only.
func (c *Client) DeletePermission(ctx context.Context, id uint64) error {
	return c.adminJSON(ctx, http.MethodDelete, "/api/perm/"+strconv.FormatUint(id, 10), nil, nil, nil)
}
