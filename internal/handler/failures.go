package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"provisioner/internal/config"
	"provisioner/internal/failure"
	"provisioner/internal/mw"
	"provisioner/internal/service"
)

type Retrier interface {
	Retry(ctx context.Context, orderRef string) (service.Outcome, error)
}

type Reloader interface {
	Reload() (*config.Config, error)
}

func ListFailuresHandler(store failure.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("include_resolved"))

		list, err := store.ListFailures(r.Context(), includeResolved)
		if err != nil {
			slog.Error("list failures failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func GetFailureHandler(store failure.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := store.Get(r.Context(), chi.URLParam(r, "orderref"))
		if err != nil {
			if errors.Is(err, failure.ErrNotFound) {
				writeError(w, http.StatusNotFound, "failure not found")
				return
			}
			slog.Error("get failure failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func FailureStatsHandler(store failure.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.Stats(r.Context())
		if err != nil {
			slog.Error("failure stats failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type resolveRequest struct {
	Note string `json:"note"`
}

func ResolveFailureHandler(store failure.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "orderref")

		var req resolveRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
		}

		ok, err := store.Resolve(r.Context(), ref, req.Note)
		if err != nil {
			slog.Error("resolve failure failed", "orderref", ref, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "failure not found")
			return
		}

		slog.Info("failure resolved by operator", "orderref", ref, "operator", mw.Operator(r.Context()))
		writeJSON(w, http.StatusOK, map[string]string{"data": "resolved"})
	}
}

func DeleteFailureHandler(store failure.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "orderref")

		ok, err := store.Delete(r.Context(), ref)
		if err != nil {
			slog.Error("delete failure failed", "orderref", ref, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "failure not found")
			return
		}

		slog.Info("failure deleted by operator", "orderref", ref, "operator", mw.Operator(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func CleanupFailuresHandler(store failure.Store, defaultDays func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := defaultDays()
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "days must be an integer")
				return
			}
			days = n
		}

		removed, err := store.CleanupResolvedOlderThan(r.Context(), days)
		if err != nil {
			if errors.Is(err, failure.ErrInvalidAge) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("cleanup failures failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// RetryFailureHandler re-runs the workflow for one order under the same
// detached, bounded context as the webhook.
func RetryFailureHandler(retrier Retrier, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "orderref")
		slog.Info("operator retry", "orderref", ref, "operator", mw.Operator(r.Context()))

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
		defer cancel()

		out, err := retrier.Retry(ctx, ref)
		if err != nil {
			slog.Error("retry failed", "orderref", ref, "error", err)
			writeError(w, http.StatusInternalServerError, "retry failed")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func ReloadConfigHandler(reloader Reloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := reloader.Reload(); err != nil {
			slog.Error("config reload failed", "error", err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Info("config reloaded", "operator", mw.Operator(r.Context()))
		writeJSON(w, http.StatusOK, map[string]string{"data": "reloaded"})
	}
}
