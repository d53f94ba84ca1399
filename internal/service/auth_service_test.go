package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/loyalty-enrollment-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func tokenClaims(role models.Role, subject int64) *models.JWTClaims {
	now := time.Now()
	return &models.JWTClaims{
		SubjectID: subject,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "identity",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", Issuer: "identity"})

	claims, err := svc.ValidateToken(signToken(t, "secret", tokenClaims(models.RoleCustomer, 42)))
	require.NoError(t, err)
	customerID, ok := claims.CustomerID()
	assert.True(t, ok)
	assert.Equal(t, models.CustomerID(42), customerID)
	_, ok = claims.BusinessID()
	assert.False(t, ok)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "identity"})

	expired := tokenClaims(models.RoleAdmin, 0)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := tokenClaims(models.RoleAdmin, 0)
	wrongIssuer.Issuer = "elsewhere"

	cases := map[string]string{
		"wrong secret":    signToken(t, "other", tokenClaims(models.RoleAdmin, 0)),
		"expired":         signToken(t, "secret", expired),
		"wrong issuer":    signToken(t, "secret", wrongIssuer),
		"missing subject": signToken(t, "secret", tokenClaims(models.RoleBusiness, 0)),
		"unknown role":    signToken(t, "secret", tokenClaims(models.Role("AUDITOR"), 7)),
		"garbage":         "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}
