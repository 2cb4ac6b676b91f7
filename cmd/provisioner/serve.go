package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"provisioner/internal/config"
	"provisioner/internal/handler"
	"provisioner/internal/service"
	"provisioner/internal/worker"
)

// workflowTimeout bounds one webhook-triggered provisioning run. The
// server write timeout sits above it so the caller still gets a reply.
const workflowTimeout = 5 * time.Minute

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(flags, true)
	if err != nil {
		return err
	}
	holder := config.NewHolder(cfg, func() (*config.Config, error) {
		return config.Load(flags.options())
	})

	c, err := buildComponents(ctx, holder.Current, false)
	if err != nil {
		return err
	}
	defer c.close()

	cleanupWorker := worker.NewCleanupWorker(c.store, cfg.Cleanup.Interval, func() int {
		return holder.Current().Cleanup.AfterDays
	})

	r := handler.NewRouter(handler.Deps{
		Events:          service.NewEventService(c.provisioner, c.notifier),
		Failures:        c.store,
		Retrier:         c.provisioner,
		Auth:            service.NewAdminAuth(func() config.Admin { return holder.Current().Admin }),
		Reloader:        holder,
		Settings:        holder.Current,
		WorkflowTimeout: workflowTimeout,
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: workflowTimeout + time.Minute,
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go cleanupWorker.Start(workerCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(quit)
	defer signal.Stop(hup)

	serveErr := make(chan error, 1)
	slog.Info("starting server", "addr", cfg.RunAddress, "version", Version)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	for running := true; running; {
		select {
		case <-hup:
			if _, err := holder.Reload(); err != nil {
				slog.Error("config reload failed, keeping current settings", "error", err)
			} else {
				setupLogger(holder.Current())
				slog.Info("config reloaded")
			}
		case err := <-serveErr:
			if err != nil {
				slog.Error("server failed", "error", err)
				return err
			}
			running = false
		case <-quit:
			running = false
		}
	}

	slog.Info("shutting down...")
	cancel()

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
