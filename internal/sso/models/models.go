// Package models mirrors the wire types exposed by the SSO backend REST API.
// The console never interprets these beyond display and the admin-role check;
// ownership of their semantics stays with the backend.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AdminRoleName is the role that unlocks the admin surface of the console.
const AdminRoleName = "admin"

type User struct {
	ID                uuid.UUID          `json:"id"`
	Name              string             `json:"name"`
	Email             string             `json:"email"`
	Avatar            string             `json:"avatar"`
	IsWA              bool               `json:"is_wa"`
	IsActive          bool               `json:"is_active"`
	IsEmailVerified   bool               `json:"is_email_verified"`
	Roles             []Role             `json:"roles"`
	OAuth2Connections []OAuth2Connection `json:"oauth2_connections"`
	Devices           []Device           `json:"devices"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// HasRole reports whether the user carries a role with the given name.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

type Role struct {
	ID          uint64       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

type Permission struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type Device struct {
	ID         string    `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Name       string    `json:"name"`
	DeviceType string    `json:"device_type"`
	OS         string    `json:"os"`
	Browser    string    `json:"browser"`
	UserAgent  string    `json:"ua"`
	IP         string    `json:"ip"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type OAuth2Connection struct {
	ID         int       `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Picture    string    `json:"picture"`
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`
	Expiry     time.Time `json:"expiry"`
}

// TokenPair is the access/refresh pair minted by the backend on login and refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Paginated is the list envelope every backend listing endpoint returns.
type Paginated[T any] struct {
	Data        []T   `json:"data"`
	Count       int64 `json:"count"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	HasNextPage bool  `json:"has_next_page"`
}
