package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/permission"
	"github.com/joescharf/tracker/internal/store"
)

var (
	issueAddDescription string
	issueAddPriority    string
	issueAddAssignee    string
	issueAddTriage      bool

	issueListStatus     string
	issueListPriority   string
	issueListUnassigned bool
	issueListMine       bool

	issueUpdateTitle       string
	issueUpdateDescription string
	issueUpdatePriority    string
)

var issueCmd = &cobra.Command{
	Use:     "issue",
	Aliases: []string{"issues", "i"},
	Short:   "Manage issues",
}

var issueAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a new issue",
	Args:  cobra.ExactArgs(1),
	RunE:  issueAddRun,
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	RunE:  issueListRun,
}

var issueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show issue details and your capabilities on it",
	Args:  cobra.ExactArgs(1),
	RunE:  issueShowRun,
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an issue's title, description, or priority",
	Args:  cobra.ExactArgs(1),
	RunE:  issueUpdateRun,
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <id> <open|in_progress|closed>",
	Short: "Change an issue's status",
	Args:  cobra.ExactArgs(2),
	RunE:  issueStatusRun,
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <id> [email]",
	Short: "Assign an issue to a user, or unassign with no email",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  issueAssignRun,
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeStatusRun(cmd, args[0], models.IssueStatusClosed)
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an issue",
	Args:  cobra.ExactArgs(1),
	RunE:  issueDeleteRun,
}

func init() {
	issueAddCmd.Flags().StringVarP(&issueAddDescription, "description", "d", "", "Issue description")
	issueAddCmd.Flags().StringVarP(&issueAddPriority, "priority", "p", "", "Priority: low, medium, high")
	issueAddCmd.Flags().StringVar(&issueAddAssignee, "assign", "", "Assignee email")
	issueAddCmd.Flags().BoolVar(&issueAddTriage, "triage", false, "Suggest priority via LLM when none is given")

	issueListCmd.Flags().StringVarP(&issueListStatus, "status", "s", "", "Filter by status")
	issueListCmd.Flags().StringVarP(&issueListPriority, "priority", "p", "", "Filter by priority")
	issueListCmd.Flags().BoolVar(&issueListUnassigned, "unassigned", false, "Only unassigned issues")
	issueListCmd.Flags().BoolVar(&issueListMine, "mine", false, "Only issues assigned to you")

	issueUpdateCmd.Flags().StringVar(&issueUpdateTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVarP(&issueUpdateDescription, "description", "d", "", "New description")
	issueUpdateCmd.Flags().StringVarP(&issueUpdatePriority, "priority", "p", "", "New priority")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueAssignCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	rootCmd.AddCommand(issueCmd)
}

// shortID returns the first 12 characters of a ULID for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// actorUser resolves the CLI identity from config (user.email).
func actorUser(cmd *cobra.Command) (*models.User, error) {
	email := viper.GetString("user.email")
	if email == "" {
		return nil, errors.New("no identity configured: set user.email in config or TRACKER_USER_EMAIL")
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	user, err := s.GetUserByEmail(cmd.Context(), strings.ToLower(email))
	if err != nil {
		return nil, fmt.Errorf("configured user %s is not registered (run `tracker user add %s`)", email, email)
	}
	return user, nil
}

// findIssue resolves an issue by full ID or unique short-ID prefix.
func findIssue(cmd *cobra.Command, id string) (*models.Issue, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	issue, err := s.GetIssue(cmd.Context(), id)
	if err == nil {
		return issue, nil
	}

	// Fall back to prefix matching against all issues.
	issues, listErr := s.ListIssues(cmd.Context(), store.IssueListFilter{})
	if listErr != nil {
		return nil, listErr
	}

	var matches []*models.Issue
	for _, i := range issues {
		if strings.HasPrefix(strings.ToUpper(i.ID), strings.ToUpper(id)) {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("issue not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s matches %d issues", id, len(matches))
	}
}

func issueAddRun(cmd *cobra.Command, args []string) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, nil)
	if !caps.CanEdit {
		return errors.New(caps.Reason)
	}

	issue := &models.Issue{
		Title:       args[0],
		Description: issueAddDescription,
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriorityMedium,
		CreatedBy:   actor.Ref(),
	}

	switch {
	case issueAddPriority != "":
		issue.Priority = models.IssuePriority(issueAddPriority)
		if issue.Priority != models.IssuePriorityLow &&
			issue.Priority != models.IssuePriorityMedium &&
			issue.Priority != models.IssuePriorityHigh {
			return fmt.Errorf("invalid priority: %s", issueAddPriority)
		}
	case issueAddTriage:
		if client := newLLMClient(); client != nil {
			triaged, err := client.TriageIssue(cmd.Context(), issue.Title, issue.Description)
			if err != nil {
				ui.Warning("Triage failed, keeping medium priority: %v", err)
			} else {
				issue.Priority = triaged.Priority
				ui.VerboseLog("Triage: %s (%s)", triaged.Priority, triaged.Summary)
			}
		} else {
			issue.Priority = classifyIssuePriority(issue.Title, issue.Description)
			ui.VerboseLog("No API key, used keyword heuristic: %s", issue.Priority)
		}
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	if issueAddAssignee != "" {
		assignee, err := s.GetUserByEmail(cmd.Context(), strings.ToLower(issueAddAssignee))
		if err != nil {
			return fmt.Errorf("assignee %s is not registered", issueAddAssignee)
		}
		issue.AssignedTo = assignee.Ref()
	}

	if ui.DryRun {
		ui.DryRunMsg("would create issue %q (priority %s)", issue.Title, issue.Priority)
		return nil
	}

	if err := s.CreateIssue(cmd.Context(), issue); err != nil {
		return err
	}

	ui.Success("Created issue %s: %s", output.Cyan(shortID(issue.ID)), issue.Title)
	return nil
}

func issueListRun(cmd *cobra.Command, args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.IssueListFilter{
		Status:     models.IssueStatus(issueListStatus),
		Priority:   models.IssuePriority(issueListPriority),
		Unassigned: issueListUnassigned,
	}
	if issueListMine {
		actor, err := actorUser(cmd)
		if err != nil {
			return err
		}
		filter.AssigneeID = actor.ID
	}

	issues, err := s.ListIssues(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found")
		return nil
	}

	table := ui.Table([]string{"ID", "Status", "Pri", "Title", "Assignee"})
	for _, issue := range issues {
		assignee := "-"
		if issue.AssignedTo != nil {
			assignee = issue.AssignedTo.Email
		}
		table.Append([]string{
			output.Cyan(shortID(issue.ID)),
			output.StatusColor(string(issue.Status)),
			output.PriorityColor(string(issue.Priority)),
			issue.Title,
			assignee,
		})
	}
	return table.Render()
}

func issueShowRun(cmd *cobra.Command, args []string) error {
	issue, err := findIssue(cmd, args[0])
	if err != nil {
		return err
	}

	ui.Info("%s  %s", output.Cyan(issue.ID), issue.Title)
	ui.Info("Status:   %s", output.StatusColor(string(issue.Status)))
	ui.Info("Priority: %s", output.PriorityColor(string(issue.Priority)))
	if issue.CreatedBy != nil {
		ui.Info("Creator:  %s", issue.CreatedBy.Email)
	} else {
		ui.Info("Creator:  (not on record)")
	}
	if issue.AssignedTo != nil {
		ui.Info("Assignee: %s", issue.AssignedTo.Email)
	} else {
		ui.Info("Assignee: (unassigned)")
	}
	ui.Info("Created:  %s", issue.CreatedAt.Format(time.RFC3339))
	if issue.ClosedAt != nil {
		ui.Info("Closed:   %s", issue.ClosedAt.Format(time.RFC3339))
	}
	if issue.Description != "" {
		ui.Info("")
		ui.Info("%s", issue.Description)
	}

	// Capabilities for the configured identity, when one is set.
	if viper.GetString("user.email") != "" {
		actor, err := actorUser(cmd)
		if err != nil {
			return err
		}
		caps := permission.Evaluate(actor, issue)
		ui.Info("")
		ui.Info("You can: %s", capsSummary(caps))
		if caps.Reason != "" {
			ui.Warning("%s", caps.Reason)
		}
	}
	return nil
}

func capsSummary(caps permission.CapabilitySet) string {
	var allowed []string
	if caps.CanEdit {
		allowed = append(allowed, "edit")
	}
	if caps.CanChangeStatus {
		allowed = append(allowed, "change status")
	}
	if caps.CanAssign {
		allowed = append(allowed, "assign")
	}
	if caps.CanDelete {
		allowed = append(allowed, "delete")
	}
	if len(allowed) == 0 {
		return "read only"
	}
	return strings.Join(allowed, ", ")
}

func issueUpdateRun(cmd *cobra.Command, args []string) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}
	issue, err := findIssue(cmd, args[0])
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, issue)
	if !caps.CanEdit {
		return errors.New(caps.Reason)
	}

	changed := false
	if issueUpdateTitle != "" {
		issue.Title = issueUpdateTitle
		changed = true
	}
	if issueUpdateDescription != "" {
		issue.Description = issueUpdateDescription
		changed = true
	}
	if issueUpdatePriority != "" {
		p := models.IssuePriority(issueUpdatePriority)
		if p != models.IssuePriorityLow && p != models.IssuePriorityMedium && p != models.IssuePriorityHigh {
			return fmt.Errorf("invalid priority: %s", issueUpdatePriority)
		}
		issue.Priority = p
		changed = true
	}
	if !changed {
		ui.Warning("Nothing to update (use --title, --description, or --priority)")
		return nil
	}

	if ui.DryRun {
		ui.DryRunMsg("would update issue %s", shortID(issue.ID))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.UpdateIssue(cmd.Context(), issue); err != nil {
		return err
	}

	ui.Success("Updated issue %s", output.Cyan(shortID(issue.ID)))
	return nil
}

func issueStatusRun(cmd *cobra.Command, args []string) error {
	status := models.IssueStatus(args[1])
	if !models.ValidIssueStatus(status) {
		return fmt.Errorf("invalid status: %s (expected open, in_progress, or closed)", args[1])
	}
	return changeStatusRun(cmd, args[0], status)
}

func changeStatusRun(cmd *cobra.Command, id string, status models.IssueStatus) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}
	issue, err := findIssue(cmd, id)
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, issue)
	decision := permission.ValidateStatusChange(caps, issue, status)
	if !decision.Allowed {
		return errors.New(decision.Reason)
	}

	if issue.Status == status {
		ui.Info("Issue %s is already %s", shortID(issue.ID), status)
		return nil
	}

	if ui.DryRun {
		ui.DryRunMsg("would move issue %s from %s to %s", shortID(issue.ID), issue.Status, status)
		return nil
	}

	issue.Status = status
	if status == models.IssueStatusClosed {
		now := time.Now().UTC()
		issue.ClosedAt = &now
	} else {
		issue.ClosedAt = nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.UpdateIssue(cmd.Context(), issue); err != nil {
		return err
	}

	ui.Success("Issue %s is now %s", output.Cyan(shortID(issue.ID)), output.StatusColor(string(status)))
	return nil
}

func issueAssignRun(cmd *cobra.Command, args []string) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}
	issue, err := findIssue(cmd, args[0])
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, issue)
	if !caps.CanAssign {
		return errors.New(caps.Reason)
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if ui.DryRun {
			ui.DryRunMsg("would unassign issue %s", shortID(issue.ID))
			return nil
		}
		issue.AssignedTo = nil
		if err := s.UpdateIssue(cmd.Context(), issue); err != nil {
			return err
		}
		ui.Success("Unassigned issue %s", output.Cyan(shortID(issue.ID)))
		return nil
	}

	assignee, err := s.GetUserByEmail(cmd.Context(), strings.ToLower(args[1]))
	if err != nil {
		return fmt.Errorf("assignee %s is not registered", args[1])
	}

	if ui.DryRun {
		ui.DryRunMsg("would assign issue %s to %s", shortID(issue.ID), assignee.Email)
		return nil
	}

	issue.AssignedTo = assignee.Ref()
	if err := s.UpdateIssue(cmd.Context(), issue); err != nil {
		return err
	}

	ui.Success("Assigned issue %s to %s", output.Cyan(shortID(issue.ID)), assignee.Email)
	return nil
}

func issueDeleteRun(cmd *cobra.Command, args []string) error {
	actor, err := actorUser(cmd)
	if err != nil {
		return err
	}
	issue, err := findIssue(cmd, args[0])
	if err != nil {
		return err
	}

	caps := permission.Evaluate(actor, issue)
	decision := permission.ValidateDeletion(caps, issue)
	if !decision.Allowed {
		return errors.New(decision.Reason)
	}

	if ui.DryRun {
		ui.DryRunMsg("would delete issue %s: %s", shortID(issue.ID), issue.Title)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteIssue(cmd.Context(), issue.ID); err != nil {
		return err
	}

	ui.Success("Deleted issue %s", output.Cyan(shortID(issue.ID)))
	return nil
}
