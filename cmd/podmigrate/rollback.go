package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <diruid>",
	Short: "Re-enable the source home after a failed migration",
	Long: `rollback re-enables the source pod's home for diruid, the
compensating action required when a migration fails between
DISABLE_SOURCE and ENABLE_DESTINATION (no automatic retry is attempted
past that point).`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	diruid := args[0]
	ctx := cmd.Context()

	app, err := newApp(configPathFlag(cmd))
	if err != nil {
		return err
	}

	lock, err := app.lockFor(diruid)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	orchestrator, client, err := app.orchestratorFor(ctx, diruid)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := orchestrator.Rollback(ctx); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "source home for %s re-enabled\n", diruid)
	return nil
}
