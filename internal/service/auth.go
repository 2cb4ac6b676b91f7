package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"provisioner/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrAdminDisabled      = errors.New("admin login is not configured")
)

const TokenTTL = 12 * time.Hour

// AdminAuth checks operator credentials against the configured user and
// bcrypt hash.
type AdminAuth struct {
	settings func() config.Admin
}

func NewAdminAuth(settings func() config.Admin) *AdminAuth {
	return &AdminAuth{settings: settings}
}

func (a *AdminAuth) Authenticate(ctx context.Context, login, password string) error {
	cfg := a.settings()
	if cfg.User == "" || cfg.PasswordHash == "" || cfg.JWTSecret == "" {
		return ErrAdminDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(login), []byte(cfg.User)) == 1
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password)); err != nil || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken signs a bearer token for an authenticated operator.
func (a *AdminAuth) IssueToken(login string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator": login,
		"iat":      jwt.NewNumericDate(now),
		"exp":      jwt.NewNumericDate(now.Add(TokenTTL)),
	})

	signed, err := token.SignedString([]byte(a.settings().JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
