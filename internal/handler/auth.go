package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"provisioner/internal/service"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) error
	IssueToken(login string, now time.Time) (string, error)
}

func LoginHandler(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		if req.Login == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "login and password required")
			return
		}

		if err := auth.Authenticate(r.Context(), req.Login, req.Password); err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCredentials):
				writeError(w, http.StatusUnauthorized, "invalid login or password")
			case errors.Is(err, service.ErrAdminDisabled):
				writeError(w, http.StatusForbidden, "admin login is not configured")
			default:
				slog.Error("login failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		token, err := auth.IssueToken(req.Login, time.Now())
		if err != nil {
			slog.Error("token generation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "token generation failed")
			return
		}

		slog.Info("operator logged in", "operator", req.Login)
		w.Header().Set("Authorization", "Bearer "+token)
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}
