package auth

import (
	"github.com/google/uuid"
)

// User is the principal a token is minted for. The platform identity
// service owns the full user record; this service only carries the
// fields that end up in token claims.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role"` // user, admin, owner
}

// UserContext represents the authenticated context for a request
type UserContext struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Scopes   []string  `json:"scopes"`
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// Scopes for authorization
const (
	ScopeRunsRead    = "runs:read"
	ScopeRunsWrite   = "runs:write"
	ScopeReportsRead = "reports:read"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)
