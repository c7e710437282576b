// Command podmigrate drives a single cross-pod calendar/contacts home
// migration from the destination pod: it talks to the source pod's
// conduit.Server, keeps migration-record state in an in-memory
// destination store, and checkpoints progress so a killed or interrupted run
// can resume.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "podmigrate",
	Short: "Migrate a user's calendar/contacts home between pods",
	Long: `podmigrate drives the destination side of a cross-pod home
migration: bulk-syncing a user's calendars, contacts, and attachments
from the source pod ahead of a scheduled downtime window, then running
the short disable/final-sync/reconcile/enable sequence that completes
the move.`,
	SilenceUsage: true,
}

// rootCtx is the process-lifetime context, cancelled on SIGINT/SIGTERM
// by main.
var rootCtx context.Context

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "emit machine-readable JSON instead of formatted output")
	rootCmd.PersistentFlags().String("config", "", "path to a config.yaml overriding the discovered one")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(serveCmd)
}

// configPathFlag reads the --config override shared by every subcommand.
func configPathFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx = ctx
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "podmigrate: %v\n", err)
		os.Exit(1)
	}
}
