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

const maxEventBytes = 64 << 10

type EventHandler interface {
	Handle(ctx context.Context, ev service.Event) error
}

// CallbackHandler receives order-source webhooks. The workflow runs on a
// context detached from the request so a dropped connection cannot stop
// an account creation half way.
func CallbackHandler(events EventHandler, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev service.Event
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		slog.Info("callback received", "event", ev.Event, "orderref", ev.OrderRef, "msg", ev.Msg)

		if err := ev.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
		defer cancel()

		if err := events.Handle(ctx, ev); err != nil {
			if errors.Is(err, service.ErrInvalidEvent) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("error processing api callback", "orderref", ev.OrderRef, "error", err)
			writeError(w, http.StatusInternalServerError, "Error processing API callback")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"data": "Information received"})
	}
}

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
