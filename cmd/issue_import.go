package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/permission"
)

var issueImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import issues from a YAML file",
	Long: `Import issues from a YAML file. The file holds a list of issues:

  issues:
    - title: Fix login redirect
      description: Users land on a blank page after SSO
      priority: high
      assignee: bob@example.com

All imported issues are created by the configured identity (user.email).`,
	Args: cobra.ExactArgs(1),
	RunE: issueImportRun,
}

func init() {
	issueCmd.AddCommand(issueImportCmd)
}

type importFile struct {
	Issues []importIssue `yaml:"issues"`
}

type importIssue struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
	Assignee    string `yaml:"assignee"`
}

func issueImportRun(cmd *cobra.Command, args []string) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, nil)
	if !caps.CanEdit {
		return errors.New(caps.Reason)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}
	if len(file.Issues) == 0 {
		ui.Warning("No issues found in %s", args[0])
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	created := 0
	for n, in := range file.Issues {
		if in.Title == "" {
			ui.Warning("Skipping issue %d: missing title", n+1)
			continue
		}

		issue := &models.Issue{
			Title:       in.Title,
			Description: in.Description,
			Status:      models.IssueStatusOpen,
			Priority:    models.IssuePriorityMedium,
			CreatedBy:   actor.Ref(),
		}

		if in.Priority != "" {
			p := models.IssuePriority(in.Priority)
			if p != models.IssuePriorityLow && p != models.IssuePriorityMedium && p != models.IssuePriorityHigh {
				ui.Warning("Skipping issue %q: invalid priority %s", in.Title, in.Priority)
				continue
			}
			issue.Priority = p
		}

		if in.Assignee != "" {
			assignee, err := s.GetUserByEmail(cmd.Context(), strings.ToLower(in.Assignee))
			if err != nil {
				ui.Warning("Issue %q: assignee %s is not registered, importing unassigned", in.Title, in.Assignee)
			} else {
				issue.AssignedTo = assignee.Ref()
			}
		}

		if ui.DryRun {
			ui.DryRunMsg("would import %q (priority %s)", issue.Title, issue.Priority)
			created++
			continue
		}

		if err := s.CreateIssue(cmd.Context(), issue); err != nil {
			return fmt.Errorf("create issue %q: %w", issue.Title, err)
		}
		ui.VerboseLog("Imported %s: %s", shortID(issue.ID), issue.Title)
		created++
	}

	ui.Success("Imported %d of %d issues", created, len(file.Issues))
	return nil
}
