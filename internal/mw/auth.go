package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const OperatorCtxKey contextKey = "operator"

// AuthMiddleware admits requests carrying a bearer token signed with the
// current secret. secret is read per request so a reload rotates it.
func AuthMiddleware(secret func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			key := secret()
			if key == "" {
				writeError(w, http.StatusUnauthorized, "admin access disabled")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(key), nil
			})

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid claims")
				return
			}

			operator, ok := claims["operator"].(string)
			if !ok || operator == "" {
				writeError(w, http.StatusUnauthorized, "operator not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), OperatorCtxKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator name, if any.
func Operator(ctx context.Context) string {
	op, _ := ctx.Value(OperatorCtxKey).(string)
	return op
}
