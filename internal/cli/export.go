package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.xlsx]",
		Short: "Write the retry queue and processed orders to a workbook",
		Long: `Write the retry queue, processed orders and dead letters to an Excel workbook.

Without a file argument the report is written to exports.path with a dated name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				name := fmt.Sprintf("sync_report_%s.xlsx", a.Clock.Now().In(a.Location).Format("20060102_150405"))
				path = filepath.Join(a.Config.Exports.Path, name)
			}

			if err := a.Exporter().WriteFile(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
			return nil
		},
	}
}
