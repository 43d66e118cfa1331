package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/analytics"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	Short:   "Show backlog summary and assignee workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardRun()
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func dashboardRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	issues, err := s.ListIssues(rootCmd.Context(), store.IssueListFilter{})
	if err != nil {
		return err
	}

	summary := analytics.Summarize(issues, time.Now().UTC())

	ui.Info("Issues: %d total, %d unassigned", summary.Total, summary.Unassigned)
	ui.Info("Status: %s open, %s in progress, %s closed",
		output.Green(fmt.Sprintf("%d", summary.ByStatus["open"])),
		output.Yellow(fmt.Sprintf("%d", summary.ByStatus["in_progress"])),
		output.Red(fmt.Sprintf("%d", summary.ByStatus["closed"])),
	)
	ui.Info("Priority: %s high, %s medium, %s low",
		output.Red(fmt.Sprintf("%d", summary.ByPriority["high"])),
		output.Yellow(fmt.Sprintf("%d", summary.ByPriority["medium"])),
		output.Green(fmt.Sprintf("%d", summary.ByPriority["low"])),
	)

	if summary.AvgResolutionHours > 0 {
		ui.Info("Avg resolution: %.1f hours", summary.AvgResolutionHours)
	}
	if summary.OldestOpen != nil {
		ui.Info("Oldest open issue: %s", summary.OldestOpen.Format("2006-01-02"))
	}

	if len(summary.Workload) > 0 {
		ui.Info("")
		table := ui.Table([]string{"Assignee", "Open", "In Progress"})
		for _, load := range summary.Workload {
			table.Append([]string{
				load.Email,
				fmt.Sprintf("%d", load.Open),
				fmt.Sprintf("%d", load.InProgress),
			})
		}
		return table.Render()
	}
	return nil
}
