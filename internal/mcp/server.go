// Package mcp exposes the tracker data layer as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tracker/internal/analytics"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/permission"
	"github.com/joescharf/tracker/internal/store"
)

// Server wraps the tracker data layer and exposes it as MCP tools.
//
// Mutating tools take an "actor" email. The actor is resolved to a registered
// user and every action runs through the same permission checks as the HTTP
// API, so an agent cannot do anything its user could not.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tracker", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.changeStatusTool())
	srv.AddTool(s.assignIssueTool())
	srv.AddTool(s.deleteIssueTool())
	srv.AddTool(s.dashboardTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// resolveActor maps the actor email parameter to a registered user.
func (s *Server) resolveActor(ctx context.Context, request mcp.CallToolRequest) (*models.User, *mcp.CallToolResult) {
	email, err := request.RequireString("actor")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: actor")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("unknown actor: %s", email))
	}
	return u, nil
}

type issueOut struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	CreatedBy   string `json:"created_by,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toIssueOut(issue *models.Issue) issueOut {
	out := issueOut{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      string(issue.Status),
		Priority:    string(issue.Priority),
		CreatedAt:   issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   issue.UpdatedAt.Format(time.RFC3339),
	}
	if issue.CreatedBy != nil {
		out.CreatedBy = issue.CreatedBy.Email
	}
	if issue.AssignedTo != nil {
		out.AssignedTo = issue.AssignedTo.Email
	}
	return out
}

func issueResult(issue *models.Issue) *mcp.CallToolResult {
	data, err := json.Marshal(toIssueOut(issue))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// tracker_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_list_issues",
		mcp.WithDescription("List issues, optionally filtered by status and/or priority. Returns a JSON array of issues. Each issue has: title, description, status (open/in_progress/closed), priority (low/medium/high), created_by and assigned_to emails."),
		mcp.WithString("status", mcp.Description("Status filter: open, in_progress, closed")),
		mcp.WithString("priority", mcp.Description("Priority filter: low, medium, high")),
		mcp.WithBoolean("unassigned", mcp.Description("Only return issues with no assignee")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{
		Status:     models.IssueStatus(request.GetString("status", "")),
		Priority:   models.IssuePriority(request.GetString("priority", "")),
		Unassigned: request.GetBool("unassigned", false),
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issues: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tracker_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_create_issue",
		mcp.WithDescription("Create a new issue on behalf of a registered user. Returns the created issue as JSON."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Email of the user creating the issue")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("priority", mcp.Description("Issue priority: low, medium, high (default: medium)")),
		mcp.WithString("assignee", mcp.Description("Email of the initial assignee")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	caps := permission.Evaluate(actor, nil)
	if !caps.CanEdit {
		return mcp.NewToolResultError(caps.Reason), nil
	}

	issue := &models.Issue{
		Title:       title,
		Description: request.GetString("description", ""),
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriority(request.GetString("priority", "medium")),
		CreatedBy:   actor.Ref(),
	}

	if assignee := request.GetString("assignee", ""); assignee != "" {
		u, err := s.store.GetUserByEmail(ctx, assignee)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unknown assignee: %s", assignee)), nil
		}
		issue.AssignedTo = u.Ref()
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return issueResult(issue), nil
}

// tracker_change_status
func (s *Server) changeStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_change_status",
		mcp.WithDescription("Change an issue's status on behalf of a registered user. Only the assignee may change status, closed issues cannot be reopened, and issues must be assigned before entering in_progress. Returns the updated issue as JSON."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Email of the user requesting the change")),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
		mcp.WithString("status", mcp.Required(), mcp.Description("New status: open, in_progress, closed")),
	)
	return tool, s.handleChangeStatus
}

func (s *Server) handleChangeStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	statusStr, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	newStatus := models.IssueStatus(statusStr)
	if !models.ValidIssueStatus(newStatus) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", statusStr)), nil
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}

	caps := permission.Evaluate(actor, issue)
	decision := permission.ValidateStatusChange(caps, issue, newStatus)
	if !decision.Allowed {
		return mcp.NewToolResultError(decision.Reason), nil
	}

	if newStatus != issue.Status {
		issue.Status = newStatus
		if newStatus == models.IssueStatusClosed {
			now := time.Now().UTC()
			issue.ClosedAt = &now
		} else {
			issue.ClosedAt = nil
		}
		if err := s.store.UpdateIssue(ctx, issue); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
		}
	}
	return issueResult(issue), nil
}

// tracker_assign_issue
func (s *Server) assignIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_assign_issue",
		mcp.WithDescription("Assign or unassign an issue on behalf of a registered user. Only the creator may change assignment. Pass an empty assignee to unassign. Returns the updated issue as JSON."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Email of the user requesting the assignment")),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
		mcp.WithString("assignee", mcp.Description("Email of the new assignee, or empty to unassign")),
	)
	return tool, s.handleAssignIssue
}

func (s *Server) handleAssignIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}

	caps := permission.Evaluate(actor, issue)
	if !caps.CanAssign {
		return mcp.NewToolResultError(caps.Reason), nil
	}

	if assignee := request.GetString("assignee", ""); assignee == "" {
		issue.AssignedTo = nil
	} else {
		u, err := s.store.GetUserByEmail(ctx, assignee)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unknown assignee: %s", assignee)), nil
		}
		issue.AssignedTo = u.Ref()
	}

	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}
	return issueResult(issue), nil
}

// tracker_delete_issue
func (s *Server) deleteIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_delete_issue",
		mcp.WithDescription("Delete an issue on behalf of a registered user. Only the creator may delete, and in-progress issues cannot be deleted."),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Email of the user requesting the deletion")),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
	)
	return tool, s.handleDeleteIssue
}

func (s *Server) handleDeleteIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, errResult := s.resolveActor(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}

	caps := permission.Evaluate(actor, issue)
	decision := permission.ValidateDeletion(caps, issue)
	if !decision.Allowed {
		return mcp.NewToolResultError(decision.Reason), nil
	}

	if err := s.store.DeleteIssue(ctx, issueID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete issue: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted issue %s", issueID)), nil
}

// tracker_dashboard
func (s *Server) dashboardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_dashboard",
		mcp.WithDescription("Get an aggregate view of the issue backlog: totals by status and priority, unassigned count, per-assignee workload, and average resolution time."),
	)
	return tool, s.handleDashboard
}

func (s *Server) handleDashboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	summary := analytics.Summarize(issues, time.Now().UTC())
	data, err := json.Marshal(summary)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
