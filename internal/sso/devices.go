package sso

import (
	"context"
	"net/http"

	"ssoconsole/internal/sso/models"
)

// Devices are the caller's own trusted devices, so these run through the
// plain authenticated dispatch rather than the admin gate.

// ListDevices returns the devices bound to the current session's user.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.authJSON(ctx, http.MethodGet, "/api/device", nil, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// UpdateDeviceRequest renames a device; every other field is derived by the
// backend from the dispatch that created it.
type UpdateDeviceRequest struct {
	Name string `json:"name"`
}

// UpdateDevice renames one of the caller's devices.
func (c *Client) UpdateDevice(ctx context.Context, id string, req UpdateDeviceRequest) error {
	return c.authJSON(ctx, http.MethodPut, "/api/device/"+id, nil, req, nil)
}

// DeleteDevice revokes one of the caller's devices.
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	return c.authJSON(ctx, http.MethodDelete, "/api/device/"+id, nil, nil, nil)
}
