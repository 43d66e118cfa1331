package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	srv := NewServer(s)
	require.NotNil(t, srv)
	return srv, s
}

func seedUser(t *testing.T, s store.Store, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Name: email}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tool tests
// ---------------------------------------------------------------------------

func TestHandleCreateIssue(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	seedUser(t, s, "alice@x.com")

	result, err := srv.handleCreateIssue(ctx, callToolReq("tracker_create_issue", map[string]any{
		"actor": "alice@x.com",
		"title": "fix the login flow",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out issueOut
	resultJSON(t, result, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "open", out.Status)
	assert.Equal(t, "medium", out.Priority)
	assert.Equal(t, "alice@x.com", out.CreatedBy)
}

func TestHandleCreateIssue_UnknownActor(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleCreateIssue(context.Background(), callToolReq("tracker_create_issue", map[string]any{
		"actor": "ghost@x.com",
		"title": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown actor")
}

func TestHandleCreateIssue_MissingActor(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleCreateIssue(context.Background(), callToolReq("tracker_create_issue", map[string]any{
		"title": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "actor")
}

func TestHandleListIssues(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")

	require.NoError(t, s.CreateIssue(ctx, &models.Issue{
		Title: "a", Status: models.IssueStatusOpen, Priority: models.IssuePriorityHigh, CreatedBy: alice.Ref(),
	}))
	require.NoError(t, s.CreateIssue(ctx, &models.Issue{
		Title: "b", Status: models.IssueStatusClosed, Priority: models.IssuePriorityLow, CreatedBy: alice.Ref(),
	}))

	result, err := srv.handleListIssues(ctx, callToolReq("tracker_list_issues", map[string]any{
		"status": "open",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out []issueOut
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Title)
}

func TestHandleChangeStatus_PermissionFlow(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")
	bob := seedUser(t, s, "bob@x.com")

	issue := &models.Issue{
		Title: "x", Status: models.IssueStatusOpen, Priority: models.IssuePriorityMedium,
		CreatedBy: alice.Ref(), AssignedTo: bob.Ref(),
	}
	require.NoError(t, s.CreateIssue(ctx, issue))

	// Creator is not the assignee.
	result, err := srv.handleChangeStatus(ctx, callToolReq("tracker_change_status", map[string]any{
		"actor": "alice@x.com", "issue_id": issue.ID, "status": "in_progress",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Only the assignee (bob@x.com) can change the status of this issue", resultText(t, result))

	// Assignee can.
	result, err = srv.handleChangeStatus(ctx, callToolReq("tracker_change_status", map[string]any{
		"actor": "bob@x.com", "issue_id": issue.ID, "status": "in_progress",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out issueOut
	resultJSON(t, result, &out)
	assert.Equal(t, "in_progress", out.Status)
}

func TestHandleChangeStatus_ClosedStaysClosed(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")

	issue := &models.Issue{
		Title: "x", Status: models.IssueStatusClosed, Priority: models.IssuePriorityMedium,
		CreatedBy: alice.Ref(), AssignedTo: alice.Ref(),
	}
	require.NoError(t, s.CreateIssue(ctx, issue))

	result, err := srv.handleChangeStatus(ctx, callToolReq("tracker_change_status", map[string]any{
		"actor": "alice@x.com", "issue_id": issue.ID, "status": "open",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cannot be reopened")
}

func TestHandleChangeStatus_InvalidStatus(t *testing.T) {
	srv, s := newTestServer(t)
	seedUser(t, s, "alice@x.com")

	result, err := srv.handleChangeStatus(context.Background(), callToolReq("tracker_change_status", map[string]any{
		"actor": "alice@x.com", "issue_id": "whatever", "status": "done",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid status")
}

func TestHandleAssignIssue(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")
	seedUser(t, s, "bob@x.com")

	issue := &models.Issue{
		Title: "x", Status: models.IssueStatusOpen, Priority: models.IssuePriorityMedium,
		CreatedBy: alice.Ref(),
	}
	require.NoError(t, s.CreateIssue(ctx, issue))

	result, err := srv.handleAssignIssue(ctx, callToolReq("tracker_assign_issue", map[string]any{
		"actor": "alice@x.com", "issue_id": issue.ID, "assignee": "bob@x.com",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out issueOut
	resultJSON(t, result, &out)
	assert.Equal(t, "bob@x.com", out.AssignedTo)

	// Non-creator cannot reassign.
	result, err = srv.handleAssignIssue(ctx, callToolReq("tracker_assign_issue", map[string]any{
		"actor": "bob@x.com", "issue_id": issue.ID, "assignee": "",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "creator")
}

func TestHandleDeleteIssue_InProgressBlocked(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")
	bob := seedUser(t, s, "bob@x.com")

	issue := &models.Issue{
		Title: "x", Status: models.IssueStatusInProgress, Priority: models.IssuePriorityMedium,
		CreatedBy: alice.Ref(), AssignedTo: bob.Ref(),
	}
	require.NoError(t, s.CreateIssue(ctx, issue))

	result, err := srv.handleDeleteIssue(ctx, callToolReq("tracker_delete_issue", map[string]any{
		"actor": "alice@x.com", "issue_id": issue.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Cannot delete issues that are in progress. Change status first.", resultText(t, result))
}

func TestHandleDeleteIssue(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")

	issue := &models.Issue{
		Title: "x", Status: models.IssueStatusOpen, Priority: models.IssuePriorityMedium,
		CreatedBy: alice.Ref(),
	}
	require.NoError(t, s.CreateIssue(ctx, issue))

	result, err := srv.handleDeleteIssue(ctx, callToolReq("tracker_delete_issue", map[string]any{
		"actor": "alice@x.com", "issue_id": issue.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	_, err = s.GetIssue(ctx, issue.ID)
	assert.Error(t, err)
}

func TestHandleDashboard(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice@x.com")

	require.NoError(t, s.CreateIssue(ctx, &models.Issue{
		Title: "a", Status: models.IssueStatusOpen, Priority: models.IssuePriorityHigh, CreatedBy: alice.Ref(),
	}))

	result, err := srv.handleDashboard(ctx, callToolReq("tracker_dashboard", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var summary struct {
		Total      int            `json:"total"`
		ByStatus   map[string]int `json:"by_status"`
		Unassigned int            `json:"unassigned"`
	}
	resultJSON(t, result, &summary)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByStatus["open"])
	assert.Equal(t, 1, summary.Unassigned)
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}
