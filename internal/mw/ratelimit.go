package mw

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// RateLimit caps the request rate across all callers. The webhook has a
// single sender, so one shared bucket is enough. rps <= 0 disables it.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(rps), burst)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				retryAfter := int(math.Ceil(1 / rps))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				slog.Warn("request rate limited", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
