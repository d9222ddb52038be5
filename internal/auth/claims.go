package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for API callers.
// Multi-tenant invariant: OrganizationID must be present.
type Claims struct {
	jwt.RegisteredClaims

	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}
