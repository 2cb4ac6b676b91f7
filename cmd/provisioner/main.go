package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"provisioner/internal/config"
	"provisioner/internal/database"
	"provisioner/internal/failure"
	"provisioner/internal/lock"
	"provisioner/internal/notify"
	"provisioner/internal/service"
)

var Version = "dev"

type rootFlags struct {
	configFile  string
	envFile     string
	runAddress  string
	databaseURI string
}

func (f *rootFlags) options() config.Options {
	return config.Options{
		ConfigFile:  f.configFile,
		EnvFile:     f.envFile,
		RunAddress:  f.runAddress,
		DatabaseURI: f.databaseURI,
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "provisioner",
		Short:         "Turn signed orders into customer accounts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "optional YAML config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file")
	pf.StringVarP(&flags.runAddress, "address", "a", "", "HTTP listen address")
	pf.StringVarP(&flags.databaseURI, "database", "d", "", "Postgres URI for the failure store (file store when empty)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(provisionCmd(flags))
	rootCmd.AddCommand(failuresCmd(flags))
	rootCmd.AddCommand(hashPasswordCmd())

	return rootCmd
}

func loadConfig(flags *rootFlags, validate bool) (*config.Config, error) {
	cfg, err := config.Load(flags.options())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	setupLogger(cfg)
	return cfg, nil
}

func setupLogger(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// openStore returns the Postgres store when a database URI is configured
// and the JSON file store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (failure.Store, func(), error) {
	if cfg.DatabaseURI == "" {
		store, err := failure.NewFileStore(cfg.FailureFile)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using file failure store", "path", cfg.FailureFile)
		return store, func() {}, nil
	}

	db, err := database.NewDB(ctx, cfg.DatabaseURI)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := database.InitSchema(ctx, db); err != nil {
		database.CloseDB(db)
		return nil, nil, fmt.Errorf("init db schema: %w", err)
	}
	slog.Info("using postgres failure store")
	return failure.NewPostgresStore(db), func() { database.CloseDB(db) }, nil
}

// newLocker serializes work per order reference. With Redis configured the
// lock holds across instances.
func newLocker(ctx context.Context, cfg *config.Config, ttl time.Duration) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("using redis order lock", "addr", cfg.RedisAddr)
	return lock.NewRedisLocker(client, ttl), func() { client.Close() }, nil
}

type components struct {
	orders      *service.OrderSourceClient
	provisioner *service.Provisioner
	notifier    notify.Notifier
	store       failure.Store
	close       func()
}

// buildComponents wires the provisioning workflow. settings is read on
// every call so a reload takes effect for the next order.
func buildComponents(ctx context.Context, settings func() *config.Config, logOnly bool) (*components, error) {
	cfg := settings()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	locker, closeLocker, err := newLocker(ctx, cfg, workflowTimeout+time.Minute)
	if err != nil {
		closeStore()
		return nil, err
	}

	orders := service.NewOrderSourceClient(func() config.OrderSource { return settings().OrderSource }, cfg.HTTPTimeout)
	accounts := service.NewAccountClient(settings, cfg.HTTPTimeout)

	var notifier notify.Notifier = notify.NewMailer(func() config.Mail { return settings().Mail }, orders)
	if logOnly {
		notifier = notify.LogNotifier{}
	}

	templates := service.FileTemplates{Dir: cfg.Ticket.TemplateDir}
	prov := service.NewProvisioner(settings, orders, accounts, store, notifier, locker, templates)

	return &components{
		orders:      orders,
		provisioner: prov,
		notifier:    notifier,
		store:       store,
		close: func() {
			closeLocker()
			closeStore()
		},
	}, nil
}
