package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/migration/checkpoint"
)

var (
	migrateStep bool
	migrateAt   string
	migrateYes  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <diruid>",
	Short: "Migrate a user's calendar/contacts home onto this pod",
	Long: `migrate drives the eight-phase cross-pod migration sequence
(INIT, BULK_SYNC, WARM_SYNC, DISABLE_SOURCE, FINAL_SYNC, RECONCILE,
ENABLE_DESTINATION, PURGE_SOURCE) for the given directory uid,
resuming from the last completed phase if a checkpoint exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStep, "step", false, "run a single phase and stop")
	migrateCmd.Flags().StringVar(&migrateAt, "at", "", "natural-language time to start at, e.g. \"tomorrow 2am\"")
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "skip the confirmation prompt before DISABLE_SOURCE")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	diruid := args[0]
	ctx := cmd.Context()

	if migrateAt != "" {
		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)
		result, err := w.Parse(migrateAt, time.Now())
		if err != nil || result == nil {
			return fmt.Errorf("parsing --at %q: %w", migrateAt, err)
		}
		wait := time.Until(result.Time)
		if wait > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "waiting until %s to start migration for %s\n", result.Time.Format(time.RFC3339), diruid)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

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

	rec, err := app.checkpoint.Load(diruid)
	if err != nil {
		return err
	}
	remaining := checkpoint.RemainingPhases(migration.OrderedPhases(), rec)
	if rec != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "resuming %s after phase %s\n", diruid, rec.LastPhase)
	}

	for _, phase := range remaining {
		if phase == migration.PhaseDisableSource && !migrateYes && interactive() {
			var confirm bool
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Disable the source home for %s now?", diruid)).
				Description("This begins the downtime window; the source pod stops accepting writes for this user.").
				Affirmative("Yes, disable").
				Negative("Stop here").
				Value(&confirm).
				Run()
			if err != nil {
				return err
			}
			if !confirm {
				fmt.Fprintln(cmd.OutOrStdout(), "stopped before DISABLE_SOURCE; rerun migrate to resume")
				return nil
			}
		}

		printPhaseHeader(cmd, phase)
		if err := orchestrator.RunPhase(ctx, phase); err != nil {
			var phaseErr *migration.PhaseError
			if errors.As(err, &phaseErr) {
				return phaseErr
			}
			return &migration.PhaseError{Phase: phase, Err: err}
		}
		if err := app.checkpoint.Advance(diruid, phase); err != nil {
			return fmt.Errorf("recording checkpoint: %w", err)
		}
		if migrateStep {
			fmt.Fprintf(cmd.OutOrStdout(), "completed phase %s; rerun with --step to continue\n", phase)
			return nil
		}
	}

	if err := app.checkpoint.Clear(diruid); err != nil {
		return err
	}

	report, err := renderCompletionReport(diruid, rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report)
	return nil
}

// renderCompletionReport builds the operator-facing summary through
// glamour's Markdown renderer, falling back to the raw Markdown when
// stdout isn't a terminal glamour can style.
func renderCompletionReport(diruid string, rec *checkpoint.Record) (string, error) {
	phasesRun := len(checkpoint.RemainingPhases(migration.OrderedPhases(), rec))
	md := fmt.Sprintf(`# Migration complete

**User:** %s
**Phases run:** %d
**Status:** all eight phases (INIT through PURGE_SOURCE) completed successfully.

The source pod's home for this user has been purged; the destination
home is now enabled and serving traffic.
`, diruid, phasesRun)

	if !interactive() {
		return md, nil
	}
	rendered, err := glamour.Render(md, "dark")
	if err != nil {
		return md, nil
	}
	return rendered, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))

func printPhaseHeader(cmd *cobra.Command, phase migration.Phase) {
	if interactive() {
		fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("==> "+string(phase)))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "phase: %s\n", phase)
	}
}

