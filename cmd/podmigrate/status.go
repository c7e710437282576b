package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <diruid>",
	Short: "Show the last completed migration phase for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

type statusOutput struct {
	DirUID      string `json:"dir_uid"`
	LastPhase   string `json:"last_phase"`
	Attempts    int    `json:"attempts"`
	CompletedAt string `json:"completed_at,omitempty"`
	Done        bool   `json:"done"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	diruid := args[0]

	app, err := newApp(configPathFlag(cmd))
	if err != nil {
		return err
	}

	rec, err := app.checkpoint.Load(diruid)
	if err != nil {
		return err
	}

	jsonOut, _ := cmd.Flags().GetBool("json")

	out := statusOutput{DirUID: diruid, Done: rec == nil}
	if rec != nil {
		out.LastPhase = rec.LastPhase
		out.Attempts = rec.Attempts
		out.CompletedAt = rec.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if rec == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no migration in progress or recorded for "+diruid)
		return nil
	}
	label := lipgloss.NewStyle().Bold(true).Render(out.LastPhase)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: last completed phase %s (%d attempt(s), at %s)\n",
		diruid, label, out.Attempts, out.CompletedAt)
	return nil
}
