package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/analytics"
	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

func setupTestServer(t *testing.T) (*Server, store.Store, *auth.Service) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	authSvc := auth.NewService(s, time.Hour)
	srv := NewServer(s, authSvc, nil)

	return srv, s, authSvc
}

// registerAndLogin creates an account and returns its bearer token.
func registerAndLogin(t *testing.T, authSvc *auth.Service, email string) (*models.User, string) {
	t.Helper()
	ctx := context.Background()
	u, err := authSvc.Register(ctx, email, email, "hunter2hunter2")
	require.NoError(t, err)
	_, session, err := authSvc.Login(ctx, email, "hunter2hunter2")
	require.NoError(t, err)
	return u, session.ID
}

func doJSON(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["error"]
}

// --- Auth ---

func TestRegisterAndLogin_API(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, "POST", "/api/v1/auth/register", "", `{"email":"alice@x.com","name":"Alice","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/auth/login", "", `{"email":"alice@x.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	// Session cookie is set alongside the token.
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie && c.Value == resp.Token {
			found = true
		}
	}
	assert.True(t, found, "login should set the session cookie")

	w = doJSON(t, router, "GET", "/api/v1/me", resp.Token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	registerAndLogin(t, authSvc, "alice@x.com")

	w := doJSON(t, router, "POST", "/api/v1/auth/login", "", `{"email":"alice@x.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_API(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, token := registerAndLogin(t, authSvc, "alice@x.com")

	w := doJSON(t, router, "POST", "/api/v1/auth/logout", token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMe_Unauthenticated(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, "GET", "/api/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication required", errorBody(t, w))
}

// --- Issue CRUD ---

func TestIssueCRUD_API(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, token := registerAndLogin(t, authSvc, "alice@x.com")

	// Create
	w := doJSON(t, router, "POST", "/api/v1/issues", token, `{"title":"fix login","description":"bug","priority":"high"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.IssueStatusOpen, created.Status)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, "alice@x.com", created.CreatedBy.Email)

	// Get
	w = doJSON(t, router, "GET", "/api/v1/issues/"+created.ID, token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Update
	w = doJSON(t, router, "PUT", "/api/v1/issues/"+created.ID, token, `{"title":"fix login properly"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "fix login properly", updated.Title)
	assert.Equal(t, "bug", updated.Description, "untouched fields survive patch")

	// List
	w = doJSON(t, router, "GET", "/api/v1/issues", token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var issues []*models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	assert.Len(t, issues, 1)

	// Delete
	w = doJSON(t, router, "DELETE", "/api/v1/issues/"+created.ID, token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/issues/"+created.ID, token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateIssue_Unauthenticated(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, "POST", "/api/v1/issues", "", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication required", errorBody(t, w))
}

func TestCreateIssue_DefaultsPriorityMedium(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, token := registerAndLogin(t, authSvc, "alice@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", token, `{"title":"no priority given"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.IssuePriorityMedium, created.Priority)
}

// --- Permission enforcement ---

func TestUpdateIssue_NonCreatorForbidden(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	_, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"alice's issue"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "PUT", "/api/v1/issues/"+issue.ID, bobTok, `{"title":"hijacked"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only the issue creator (alice@x.com) can edit this issue", errorBody(t, w))
}

func TestChangeStatus_Flow(t *testing.T) {
	srv, s, authSvc := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	bob, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"needs work"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	// Unassigned: even the creator cannot change status.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", aliceTok, `{"status":"in_progress"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "This issue must be assigned to someone before its status can be changed", errorBody(t, w))

	// Creator assigns bob.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", aliceTok, `{"assignee_id":"`+bob.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Creator still cannot change status; only the assignee can.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", aliceTok, `{"status":"in_progress"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only the assignee (bob@x.com) can change the status of this issue", errorBody(t, w))

	// Assignee moves it along.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", bobTok, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", bobTok, `{"status":"closed"}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)

	// Closed issues stay closed.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", bobTok, `{"status":"open"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Closed issues cannot be reopened. Ask the creator to create a new issue.", errorBody(t, w))
}

func TestChangeStatus_SameStatusNoOp(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	bob, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"x","assignee_id":"`+bob.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", bobTok, `{"status":"open"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangeStatus_InvalidStatus(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", aliceTok, `{"status":"done"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteIssue_InProgressBlocked(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	bob, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"x","assignee_id":"`+bob.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/status", bobTok, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "DELETE", "/api/v1/issues/"+issue.ID, aliceTok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot delete issues that are in progress. Change status first.", errorBody(t, w))

	// Non-creator deletion is a capability denial, not a rule denial.
	w = doJSON(t, router, "DELETE", "/api/v1/issues/"+issue.ID, bobTok, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAssignIssue_OnlyCreator(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	bob, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", bobTok, `{"assignee_id":"`+bob.ID+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Creator can assign and unassign.
	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", aliceTok, `{"assignee_id":"`+bob.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/issues/"+issue.ID+"/assign", aliceTok, `{"assignee_id":""}`)
	require.Equal(t, http.StatusOK, w.Code)

	var unassigned models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unassigned))
	assert.Nil(t, unassigned.AssignedTo)
}

func TestIssueCapabilities_API(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, aliceTok := registerAndLogin(t, authSvc, "alice@x.com")
	_, bobTok := registerAndLogin(t, authSvc, "bob@x.com")

	w := doJSON(t, router, "POST", "/api/v1/issues", aliceTok, `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))

	w = doJSON(t, router, "GET", "/api/v1/issues/"+issue.ID+"/capabilities", bobTok, "")
	require.Equal(t, http.StatusOK, w.Code)

	var caps struct {
		CanRead   bool   `json:"can_read"`
		CanEdit   bool   `json:"can_edit"`
		IsCreator bool   `json:"is_creator"`
		Reason    string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caps))
	assert.True(t, caps.CanRead)
	assert.False(t, caps.CanEdit)
	assert.False(t, caps.IsCreator)
	assert.Equal(t, "Only the issue creator (alice@x.com) can edit this issue", caps.Reason)
}

// --- Dashboard ---

func TestDashboard_API(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	router := srv.Router()
	_, token := registerAndLogin(t, authSvc, "alice@x.com")

	for _, title := range []string{"a", "b"} {
		w := doJSON(t, router, "POST", "/api/v1/issues", token, `{"title":"`+title+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, "GET", "/api/v1/dashboard", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByStatus["open"])
	assert.Equal(t, 2, summary.Unassigned)
}

func TestDashboard_Unauthenticated(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	w := doJSON(t, router, "GET", "/api/v1/dashboard", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
