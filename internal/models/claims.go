package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims are the JWT claims carried by authenticated requests.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the token carries the admin role.
func (c *UserClaims) IsAdmin() bool {
	return c.Role == "admin"
}
