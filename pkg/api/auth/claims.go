// Package auth provides JWT bearer token verification for the FileFerry API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles recognized in token claims.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims represents the JWT claims FileFerry cares about.
//
// The subject claim carries the user ID that uploads and quota entries are
// keyed on. Role gates the admin endpoints (quota ceiling changes).
type Claims struct {
	jwt.RegisteredClaims

	// Role is the user's role ("admin" or "user").
	Role string `json:"role,omitempty"`
}

// UserID returns the user identifier from the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// IsAdmin returns true if the user has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
