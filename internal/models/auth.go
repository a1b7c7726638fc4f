package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens issued by the
// identity service.
type JWTClaims struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	RegionCode  string   `json:"region_code,omitempty"`
	AccountType string   `json:"account_type,omitempty"`
	jwt.RegisteredClaims
}
