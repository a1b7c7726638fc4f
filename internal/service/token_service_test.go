package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/food-approval-api/internal/models"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
)

func signClaims(t *testing.T, method jwt.SigningMethod, secret string, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenServiceValidateToken(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})
	token := signClaims(t, jwt.SigningMethodHS256, "secret", models.JWTClaims{
		Role:       models.RoleRegionReviewer,
		RegionCode: " jkt ",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-1",
			Issuer:    "identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", claims.UserID)
	assert.Equal(t, "JKT", claims.RegionCode)
	assert.Equal(t, models.RoleRegionReviewer, claims.Role)
}

func TestTokenServiceRejectsInvalidTokens(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})
	valid := jwt.RegisteredClaims{Subject: "u1", Issuer: "identity", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := map[string]string{
		"wrong secret":  signClaims(t, jwt.SigningMethodHS256, "other", models.JWTClaims{RegisteredClaims: valid}),
		"wrong method":  signClaims(t, jwt.SigningMethodHS512, "secret", models.JWTClaims{RegisteredClaims: valid}),
		"wrong issuer":  signClaims(t, jwt.SigningMethodHS256, "secret", models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "elsewhere"}}),
		"no subject":    signClaims(t, jwt.SigningMethodHS256, "secret", models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "identity"}}),
		"garbage token": "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			requireAppErrorCode(t, err, appErrors.ErrUnauthorized.Code)
		})
	}
}
