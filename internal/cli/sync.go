package cli

import (
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
	"bookingsync/internal/service"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var since string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full sync now",
		Long: `Run one full sync under the global lock.

The run is skipped when another process holds the lock. --dry-run only
lists the fetched orders and their bookings; nothing is written.

Examples:
  syncctl run
  syncctl run --since 2025-03-01T00:00:00Z
  syncctl run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sincePtr *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				sincePtr = &t
			}

			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()
			if err := a.InitSync(ctx); err != nil {
				return err
			}

			if dryRun {
				preview, err := a.Engine.Preview(ctx, sincePtr)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return rootOpts.printJSON(cmd.OutOrStdout(), preview)
				}
				writePreview(cmd, preview)
				return nil
			}

			res, err := a.Orchestrator.RunSync(ctx, models.SyncSourceManual, sincePtr)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintln(out, "Sync skipped: another run holds the lock")
				return nil
			}
			fmt.Fprintf(out, "Run %s %s\n", res.Run.ID, res.Run.Status)
			if res.Stats != nil {
				fmt.Fprintln(out, res.Stats.Summary())
			}
			if res.Run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", res.Run.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "override the checkpoint (RFC3339)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list fetched orders without processing them")
	return cmd
}

func writePreview(cmd *cobra.Command, p *service.SyncPreview) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d order(s) since %s, %d with bookings\n",
		p.Total, p.Checkpoint.Format(time.RFC3339), p.WithBookings)
	for _, o := range p.Orders {
		note := ""
		switch {
		case o.Processed:
			note = " (already processed)"
		case o.Queued:
			note = " (in retry queue)"
		}
		fmt.Fprintf(out, "Order %s (#%s)%s\n", o.OrderID, o.OrderNumber, note)
		for _, b := range o.Bookings {
			fmt.Fprintf(out, "  %s %s %s\n", b.ProductName, b.Date, b.Time)
		}
	}
}

// NewSyncOrderCommand creates the sync-order command.
func NewSyncOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := service.ProcessOptions{Source: models.SyncSourceManual}

	cmd := &cobra.Command{
		Use:   "sync-order <order-id>",
		Short: "Sync a single order",
		Long: `Sync a single storefront order to the calendar.

--force bypasses the processed-order check; events created by an earlier
attempt are reused rather than duplicated.`,
		Args: cobra.ExactArgs(1),
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

			res, err := a.Engine.SyncOrder(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), res)
			}
			writeOrderResult(cmd, res)
			if !res.Success {
				return fmt.Errorf("order %s failed", res.OrderID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "process even if already recorded as processed")
	cmd.Flags().BoolVar(&opts.AllowUnpaid, "allow-unpaid", false, "sync orders that are not paid")
	cmd.Flags().BoolVar(&opts.SkipAvailabilityCheck, "skip-availability", false, "skip the calendar conflict check")
	return cmd
}

func writeOrderResult(cmd *cobra.Command, res *service.OrderResult) {
	out := cmd.OutOrStdout()
	switch {
	case res.Skipped:
		fmt.Fprintf(out, "Order %s already processed\n", res.OrderID)
		return
	case res.Success:
		fmt.Fprintf(out, "Order %s (#%s) synced\n", res.OrderID, res.OrderNumber)
	default:
		fmt.Fprintf(out, "Order %s (#%s) failed [%s]\n", res.OrderID, res.OrderNumber, res.Category)
	}
	for _, b := range res.Bookings {
		state := "created " + b.EventID
		if b.Reused {
			state = "reused " + b.EventID
		}
		if b.Moved {
			state = "moved " + b.EventID
		}
		if b.Err != nil {
			state = "error: " + b.Err.Error()
		}
		fmt.Fprintf(out, "  %s %s %s: %s\n", b.ProductName, b.Date, b.Time, state)
	}
	if len(res.Errors) > 0 && len(res.Bookings) == 0 {
		fmt.Fprintf(out, "  %s\n", strings.Join(res.Errors, "; "))
	}
	if res.Queued {
		fmt.Fprintln(out, "  queued for retry")
	}
}
