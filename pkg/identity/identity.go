package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role defines the actor role in the support system.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Admin is the identity of the signed-in admin session. It is passed
// explicitly into frame dispatch so own echoes can be told apart from
// other admins' pushes without any ambient storage read.
type Admin struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

// IsZero reports whether the identity is unset.
func (a Admin) IsZero() bool {
	return a.Id == 0
}

// tokenClaims are the claims the backend puts into the admin access token.
type tokenClaims struct {
	UserId int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// FromToken extracts the admin identity from an access token issued by the
// backend. The client does not hold the signing secret, so claims are read
// unverified; the token is only trusted for display and echo suppression,
// never for authorization decisions.
func FromToken(tokenString string) (Admin, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return Admin{}, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.UserId == 0 {
		return Admin{}, fmt.Errorf("token carries no user_id claim")
	}
	if claims.Role != "" && Role(claims.Role) != RoleAdmin {
		return Admin{}, fmt.Errorf("token role is not admin: %q", claims.Role)
	}

	return Admin{Id: claims.UserId, Name: claims.Name}, nil
}
