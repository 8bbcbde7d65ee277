package cli

import (
	"errors"
	"fmt"

	"bookingsync/internal/lock"
	"bookingsync/internal/models"

	"github.com/spf13/cobra"
)

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear sync locks",
	}
	cmd.PersistentFlags().StringVar(&scope, "scope", models.LockScopeGlobal, "lock scope (sync:global or order:<id>)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show who holds a lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			state, err := a.Locker.Read(ctx, scope)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return rootOpts.printJSON(cmd.OutOrStdout(), state)
			}
			if !state.Held(a.Clock.Now()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is free\n", scope)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s held by %s until %s\n", scope, state.Owner, formatTime(state.ExpiresAt, a.Location))
			return nil
		},
	}

	var force bool
	release := &cobra.Command{
		Use:   "release",
		Short: "Clear a lock left behind by a crashed process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to clear a lock without --force")
			}
			ctx := cmd.Context()
			a, done, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer done()

			fr, ok := a.Locker.(lock.ForceReleaser)
			if !ok {
				return fmt.Errorf("lock backend %T cannot be cleared by hand", a.Locker)
			}
			released, err := fr.ForceRelease(ctx, scope)
			if err != nil {
				return err
			}
			a.Logger.Warn().Str("scope", scope).Bool("released", released).Msg("lock cleared by operator")
			if released {
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", scope)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not held\n", scope)
			}
			return nil
		},
	}
	release.Flags().BoolVar(&force, "force", false, "confirm clearing the lock regardless of owner")

	cmd.AddCommand(show, release)
	return cmd
}
