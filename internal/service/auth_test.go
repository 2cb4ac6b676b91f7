package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provisioner/internal/config"
)

func TestAdminAuth(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	admin := config.Admin{User: "ops", PasswordHash: hash, JWTSecret: "jwt-key"}
	auth := NewAdminAuth(func() config.Admin { return admin })

	assert.NoError(t, auth.Authenticate(t.Context(), "ops", "s3cret"))
	assert.ErrorIs(t, auth.Authenticate(t.Context(), "ops", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, auth.Authenticate(t.Context(), "root", "s3cret"), ErrInvalidCredentials)

	disabled := NewAdminAuth(func() config.Admin { return config.Admin{} })
	assert.ErrorIs(t, disabled.Authenticate(t.Context(), "ops", "s3cret"), ErrAdminDisabled)
}

func TestIssueToken(t *testing.T) {
	auth := NewAdminAuth(func() config.Admin { return config.Admin{JWTSecret: "jwt-key"} })

	signed, err := auth.IssueToken("ops", time.Now())
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("jwt-key"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "ops", claims["operator"])
}
