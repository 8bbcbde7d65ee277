package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bookingsync/internal/app"
	"bookingsync/internal/models"

	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync health, lock and checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			st, err := a.StatusReporter().Status(ctx)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), st)
			}
			writeStatus(cmd.OutOrStdout(), st, a.Location)
			return nil
		},
	}
}

func writeStatus(w io.Writer, st *models.SyncStatus, loc *time.Location) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Health:\t%s\n", st.Health)
	if st.SuccessRate >= 0 {
		fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", st.SuccessRate)
	}
	fmt.Fprintf(tw, "Running:\t%t\n", st.Running)
	if st.Lock != nil && st.Lock.Locked {
		fmt.Fprintf(tw, "Lock owner:\t%s (expires %s)\n", st.Lock.Owner, formatTime(st.Lock.ExpiresAt, loc))
	}
	if st.State != nil {
		fmt.Fprintf(tw, "State:\t%s\n", st.State.Status)
		fmt.Fprintf(tw, "Checkpoint:\t%s\n", formatTime(st.State.LastSyncTime, loc))
		fmt.Fprintf(tw, "Last counts:\tchecked %d, processed %d, synced %d, failed %d\n",
			st.State.OrdersChecked, st.State.OrdersProcessed, st.State.OrdersSuccessful, st.State.OrdersFailed)
		if st.State.LastError != "" {
			fmt.Fprintf(tw, "Last error:\t%s\n", st.State.LastError)
		}
	}
	if st.Metrics != nil {
		fmt.Fprintf(tw, "Runs:\t%d total, %d ok, %d failed\n", st.Metrics.TotalSyncs, st.Metrics.SuccessfulSyncs, st.Metrics.FailedSyncs)
	}
	if st.LastRun != nil {
		fmt.Fprintf(tw, "Last run:\t%s %s at %s\n", st.LastRun.ID, st.LastRun.Status, formatTime(&st.LastRun.StartedAt, loc))
	}
	fmt.Fprintf(tw, "Pending retries:\t%d\n", st.PendingRetries)
	if st.NextRunAt != nil {
		fmt.Fprintf(tw, "Next run:\t%s\n", formatTime(st.NextRunAt, loc))
	}
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(timeLayout)
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	var orders bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs or processed orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			if orders {
				return writeProcessedOrders(cmd, rootOpts, a, limit)
			}

			runs, err := a.DB.ListSyncRuns(ctx, limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "RUN\tSOURCE\tSTATUS\tSTARTED\tFETCHED\tPROCESSED\tFAILED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Source, r.Status, formatTime(&r.StartedAt, a.Location),
					r.OrdersFetched, r.OrdersProcessed, r.OrdersFailed, r.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to list")
	cmd.Flags().BoolVar(&orders, "orders", false, "list processed orders instead of runs")
	return cmd
}

func writeProcessedOrders(cmd *cobra.Command, rootOpts *RootOptions, a *app.App, limit int) error {
	list, err := a.DB.ListProcessedOrders(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if rootOpts.Format == "json" {
		if list == nil {
			list = []models.ProcessedOrder{}
		}
		return rootOpts.printJSON(cmd.OutOrStdout(), list)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "ORDER\tNUMBER\tPROCESSED\tSOURCE\tPRODUCT\tDATE\tTIME\tCUSTOMER\tEVENT")
	for _, o := range list {
		for _, b := range o.Bookings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				o.OrderID, o.OrderNumber, formatTime(&o.ProcessedAt, a.Location), o.SyncSource,
				b.ProductName, b.BookingDate, b.BookingTime, b.CustomerName, b.CalendarEventID)
		}
		if len(o.Bookings) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t-\t-\t-\t-\t%s\n",
				o.OrderID, o.OrderNumber, formatTime(&o.ProcessedAt, a.Location), o.SyncSource, o.CalendarEventID)
		}
	}
	return nil
}

// NewErrorsCommand creates the errors command.
func NewErrorsCommand(rootOpts *RootOptions) *cobra.Command {
	var since time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List recent sync errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return fmt.Errorf("--since must be positive")
			}
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			list, err := a.DB.ListSyncErrors(ctx, a.Clock.Now().Add(-since), limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				if list == nil {
					list = []models.SyncError{}
				}
				return rootOpts.printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sync errors in the last %s\n", since)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "TIME\tCATEGORY\tRUN\tORDER\tMESSAGE")
			for _, e := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					formatTime(&e.OccurredAt, a.Location), e.Category, dash(e.RunID), dash(e.OrderID), e.Message)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum errors to list")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
