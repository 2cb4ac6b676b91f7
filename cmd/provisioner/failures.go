package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"provisioner/internal/config"
	"provisioner/internal/failure"
)

func failuresCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and manage recorded provisioning failures",
	}

	var (
		format string
		cfg    *config.Config
	)
	cmd.PersistentFlags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")

	// withStore opens the configured store for one command run.
	withStore := func(run func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			var err error
			cfg, err = loadConfig(flags, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			return run(ctx, cmd, store, args)
		}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List failures, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			list, err := store.ListFailures(ctx, all)
			if err != nil {
				return err
			}
			return printFailures(cmd.OutOrStdout(), format, list)
		}),
	}
	listCmd.Flags().Bool("all", false, "include resolved failures")

	showCmd := &cobra.Command{
		Use:   "show <orderref>",
		Short: "Show one failure record",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			rec, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printFailure(cmd.OutOrStdout(), format, rec)
		}),
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <orderref>",
		Short: "Mark a failure as handled",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			note, _ := cmd.Flags().GetString("note")
			ok, err := store.Resolve(ctx, args[0], note)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", failure.ErrNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
			return nil
		}),
	}
	resolveCmd.Flags().String("note", "", "resolution note")

	deleteCmd := &cobra.Command{
		Use:   "delete <orderref>",
		Short: "Remove a failure record",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			ok, err := store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", failure.ErrNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize failures by type",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			st, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), format, st)
		}),
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete resolved failures older than --days",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store failure.Store, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if !cmd.Flags().Changed("days") {
				days = cfg.Cleanup.AfterDays
			}
			removed, err := store.CleanupResolvedOlderThan(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d resolved failures older than %d days\n", removed, days)
			return nil
		}),
	}
	cleanupCmd.Flags().Int("days", 30, "minimum age in days")

	cmd.AddCommand(listCmd, showCmd, resolveCmd, deleteCmd, statsCmd, cleanupCmd)
	return cmd
}
