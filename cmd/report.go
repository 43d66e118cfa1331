package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

var (
	reportFormat string
	reportOut    string
	reportStatus string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export issues as json, csv, or markdown",
	RunE:  reportRun,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "json", "Output format: json, csv, markdown")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Write to file instead of stdout")
	reportCmd.Flags().StringVarP(&reportStatus, "status", "s", "", "Filter by status")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(cmd *cobra.Command, args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	issues, err := s.ListIssues(cmd.Context(), store.IssueListFilter{
		Status: models.IssueStatus(reportStatus),
	})
	if err != nil {
		return err
	}

	var w io.Writer = ui.Out
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch reportFormat {
	case "json":
		err = writeJSONReport(w, issues)
	case "csv":
		err = writeCSVReport(w, issues)
	case "markdown", "md":
		err = writeMarkdownReport(w, issues)
	default:
		return fmt.Errorf("unknown format: %s (expected json, csv, or markdown)", reportFormat)
	}
	if err != nil {
		return err
	}

	if reportOut != "" {
		ui.Success("Wrote %d issues to %s", len(issues), reportOut)
	}
	return nil
}

func writeJSONReport(w io.Writer, issues []*models.Issue) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(issues)
}

func writeCSVReport(w io.Writer, issues []*models.Issue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "title", "status", "priority", "creator", "assignee", "created_at", "closed_at"}); err != nil {
		return err
	}
	for _, i := range issues {
		record := []string{
			i.ID, i.Title, string(i.Status), string(i.Priority),
			refEmail(i.CreatedBy), refEmail(i.AssignedTo),
			i.CreatedAt.Format(time.RFC3339), "",
		}
		if i.ClosedAt != nil {
			record[7] = i.ClosedAt.Format(time.RFC3339)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeMarkdownReport(w io.Writer, issues []*models.Issue) error {
	var b strings.Builder
	b.WriteString("# Issue Report\n\n")
	b.WriteString(fmt.Sprintf("Generated %s, %d issues.\n\n", time.Now().UTC().Format("2006-01-02"), len(issues)))
	b.WriteString("| ID | Title | Status | Priority | Assignee |\n")
	b.WriteString("|----|-------|--------|----------|----------|\n")
	for _, i := range issues {
		assignee := refEmail(i.AssignedTo)
		if assignee == "" {
			assignee = "-"
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			shortID(i.ID), escapeMarkdown(i.Title), i.Status, i.Priority, assignee))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func refEmail(ref *models.UserRef) string {
	if ref == nil {
		return ""
	}
	return ref.Email
}

func escapeMarkdown(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
