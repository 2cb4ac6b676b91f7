package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"provisioner/internal/config"
	"provisioner/internal/service"
)

func provisionCmd(flags *rootFlags) *cobra.Command {
	var (
		format  string
		logOnly bool
	)

	cmd := &cobra.Command{
		Use:   "provision <orderref>",
		Short: "Run the provisioning workflow for one order",
		Long: `Look the order up, create the account when no match exists and send
the usual notification. A recorded failure for the order is resolved
when the run ends with an account.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			holder := config.NewHolder(cfg, nil)
			c, err := buildComponents(ctx, holder.Current, logOnly)
			if err != nil {
				return err
			}
			defer c.close()

			out, err := c.provisioner.Retry(ctx, args[0])
			if perr := printOutcome(cmd.OutOrStdout(), format, out); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if !out.Succeeded() {
				return fmt.Errorf("order %s not provisioned: %s", args[0], out.Stage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().BoolVar(&logOnly, "log-only", false, "log notifications instead of mailing them")
	return cmd
}

func printOutcome(w io.Writer, format string, out service.Outcome) error {
	if done, err := encode(w, format, out); done {
		return err
	}

	fmt.Fprintf(w, "Order:   %s\n", out.OrderRef)
	fmt.Fprintf(w, "Stage:   %s\n", out.Stage)
	if out.AccountID != "" {
		fmt.Fprintf(w, "Account: %s\n", out.AccountID)
	}
	if out.MatchedAccountID != "" {
		fmt.Fprintf(w, "Matched: %s\n", out.MatchedAccountID)
	}
	if len(out.PlanIDs) > 0 {
		ids := make([]string, len(out.PlanIDs))
		for i, id := range out.PlanIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "Plans:   %s\n", strings.Join(ids, ", "))
	}
	if out.TicketID != "" {
		fmt.Fprintf(w, "Ticket:  %s\n", out.TicketID)
	}
	if out.FailureKey != "" {
		fmt.Fprintf(w, "Failure: %s\n", out.FailureKey)
	}
	if out.Resolved {
		fmt.Fprintln(w, "Failure record resolved")
	}
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	if out.Err != nil {
		fmt.Fprintf(w, "Error:   %v\n", out.Err)
	}
	return nil
}
