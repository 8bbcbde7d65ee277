package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewEventsCommand creates the events command group for calendar cleanup.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and clean up calendar events created for orders",
	}
	cmd.AddCommand(newEventsListCommand(rootOpts))
	cmd.AddCommand(newEventsDeleteCommand(rootOpts))
	return cmd
}

func newEventsListCommand(rootOpts *RootOptions) *cobra.Command {
	var near string

	cmd := &cobra.Command{
		Use:   "list <order-id>",
		Short: "List calendar events tagged with an order id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			var around time.Time
			if near != "" {
				around, err = time.ParseInLocation(time.DateOnly, near, a.Location)
				if err != nil {
					return fmt.Errorf("invalid --near: %w", err)
				}
			}
			if err := a.InitCalendar(ctx); err != nil {
				return err
			}

			events, err := a.Calendar.FindEventByOrderID(ctx, args[0], around)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), events)
			}
			if len(events) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No events for order %s\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "EVENT\tLINE ITEM\tSTART\tSUMMARY")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.ID, ev.LineItemID, formatTime(&ev.Start, a.Location), ev.Summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&near, "near", "", "search around this date (YYYY-MM-DD) instead of today")
	return cmd
}

func newEventsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete a duplicate or stray calendar event",
		Long: `Delete a calendar event without notifying attendees.

The processed-order ledger is not changed; use this for duplicates left by
manual edits, not to re-sync an order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to delete an event without --force")
			}
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()
			if err := a.InitCalendar(ctx); err != nil {
				return err
			}

			if err := a.Calendar.DeleteEvent(ctx, args[0]); err != nil {
				return err
			}
			a.Logger.Warn().Str("event_id", args[0]).Msg("calendar event deleted by operator")
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm the deletion")
	return cmd
}
