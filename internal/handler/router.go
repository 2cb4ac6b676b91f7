package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"provisioner/internal/config"
	"provisioner/internal/failure"
	"provisioner/internal/mw"
)

type Deps struct {
	Events          EventHandler
	Failures        failure.Store
	Retrier         Retrier
	Auth            Authenticator
	Reloader        Reloader
	Settings        func() *config.Config
	WorkflowTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Settings()
	timeout := d.WorkflowTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", HealthHandler())

	r.With(mw.RateLimit(cfg.Webhook.RPS, cfg.Webhook.Burst)).
		Post("/api-callback", CallbackHandler(d.Events, timeout))

	r.Post("/admin/login", LoginHandler(d.Auth))

	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(func() string { return d.Settings().Admin.JWTSecret }))

		r.Get("/admin/failures", ListFailuresHandler(d.Failures))
		r.Get("/admin/failures/stats", FailureStatsHandler(d.Failures))
		r.Post("/admin/failures/cleanup", CleanupFailuresHandler(d.Failures, func() int { return d.Settings().Cleanup.AfterDays }))
		r.Get("/admin/failures/{orderref}", GetFailureHandler(d.Failures))
		r.Delete("/admin/failures/{orderref}", DeleteFailureHandler(d.Failures))
		r.Post("/admin/failures/{orderref}/resolve", ResolveFailureHandler(d.Failures))
		r.Post("/admin/failures/{orderref}/retry", RetryFailureHandler(d.Retrier, timeout))

		r.Post("/admin/config/reload", ReloadConfigHandler(d.Reloader))
	})

	return r
}
