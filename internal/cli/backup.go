package cli

import (
	"fmt"

	"bookingsync/internal/database"

	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the sync database to backup.storage_path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			svc := database.NewBackupService(a.DB, a.Config.Backup, a.Clock, a.Logger)
			path, err := svc.PerformBackup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
			if cleanup {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old backup(s)\n", svc.CleanupOldBackups())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "also delete backups past backup.retention_days")
	return cmd
}
