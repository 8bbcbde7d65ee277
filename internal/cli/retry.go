package cli

import (
	"fmt"
	"text/tabwriter"

	"bookingsync/internal/models"

	"github.com/spf13/cobra"
)

// NewRetryCommand creates the retry command group.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Inspect and resolve the retry queue",
	}
	cmd.AddCommand(newRetryListCommand(rootOpts))
	cmd.AddCommand(newRetryRunCommand(rootOpts))
	cmd.AddCommand(newRetryResolveCommand(rootOpts))
	cmd.AddCommand(newDeadLetterCommand(rootOpts))
	return cmd
}

func newRetryListCommand(rootOpts *RootOptions) *cobra.Command {
	var filter models.RetryFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			entries, err := a.Retries.List(ctx, filter)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Retry queue is empty")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "ORDER\tNUMBER\tSTATUS\tCATEGORY\tATTEMPTS\tNEXT RETRY\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					e.OrderID, e.OrderNumber, e.Status, e.FailureCategory, e.RetryCount, e.MaxRetries,
					formatTime(e.NextRetryAt, a.Location), e.FailureReason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&filter.Exhausted, "exhausted", false, "only entries that used all attempts")
	cmd.Flags().BoolVar(&filter.IncludeResolved, "all", false, "include resolved entries")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum entries to list")
	return cmd
}

func newRetryRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [order-id...]",
		Short: "Retry queued orders now",
		Long: `Retry queued orders immediately, ignoring their next retry time.

Without arguments every entry with attempts left is retried. Named orders
are retried even when their attempts are exhausted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()
			if err := a.InitSync(ctx); err != nil {
				return err
			}

			stats, err := a.Engine.RetryNow(ctx, args)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retried %d order(s): %d ok, %d failed\n",
				stats.Retried, stats.RetrySucceeded, stats.RetryFailed)
			if stats.RetryFailed > 0 {
				return fmt.Errorf("%d retried order(s) failed", stats.RetryFailed)
			}
			return nil
		},
	}
}

func newRetryResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <order-id>",
		Short: "Mark a queued order as handled manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			if err := a.Retries.Resolve(ctx, args[0], models.ResolutionManual); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
			return nil
		},
	}
}

func newDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List exhausted entries parked for manual review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			entries, err := a.DeadLetters.List(ctx, limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), entries)
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s #%s after %d attempts: %s\n", e.OrderID, e.OrderNumber, e.RetryCount, e.FailureReason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")
	return cmd
}
