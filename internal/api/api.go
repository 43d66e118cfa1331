// Package api provides the REST API handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/tracker/internal/analytics"
	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/llm"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/permission"
	"github.com/joescharf/tracker/internal/store"
)

// SessionCookie is the name of the session cookie issued at login.
const SessionCookie = "session_id"

type contextKey string

const identityKey contextKey = "identity"

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	auth  *auth.Service
	llm   *llm.Client
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(s store.Store, authSvc *auth.Service, llmClient *llm.Client) *Server {
	return &Server{store: s, auth: authSvc, llm: llmClient}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", s.register)
	mux.HandleFunc("POST /api/v1/auth/login", s.login)
	mux.HandleFunc("POST /api/v1/auth/logout", s.logout)
	mux.HandleFunc("GET /api/v1/me", s.me)

	mux.HandleFunc("GET /api/v1/users", s.listUsers)

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}", s.updateIssue)
	mux.HandleFunc("DELETE /api/v1/issues/{id}", s.deleteIssue)
	mux.HandleFunc("POST /api/v1/issues/{id}/status", s.changeStatus)
	mux.HandleFunc("POST /api/v1/issues/{id}/assign", s.assignIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}/capabilities", s.issueCapabilities)
	mux.HandleFunc("POST /api/v1/issues/{id}/triage", s.triageIssue)

	mux.HandleFunc("GET /api/v1/dashboard", s.dashboard)

	return corsMiddleware(s.identityMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware resolves the session token (cookie or bearer header) to
// a user and stores it on the request context. Requests with no valid token
// proceed with a nil identity; each handler decides what that means.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token != "" {
			if u, err := s.auth.Resolve(r.Context(), token); err == nil && u != nil {
				r = r.WithContext(context.WithValue(r.Context(), identityKey, u))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// identity returns the resolved user for the request, or nil.
func identity(r *http.Request) *models.User {
	u, _ := r.Context().Value(identityKey).(*models.User)
	return u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDenial maps a permission denial to the right status code: 401 when no
// identity was present, 403 otherwise.
func writeDenial(w http.ResponseWriter, reason string) {
	if reason == permission.ReasonAuthRequired {
		writeError(w, http.StatusUnauthorized, reason)
		return
	}
	writeError(w, http.StatusForbidden, reason)
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

// --- Auth ---

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	u, err := s.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	u, session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "token": session.ID})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		_ = s.auth.Logout(r.Context(), token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := identity(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, permission.ReasonAuthRequired)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Users ---

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if identity(r) == nil {
		writeError(w, http.StatusUnauthorized, permission.ReasonAuthRequired)
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// --- Issues ---

// loadIssue fetches the issue or writes the appropriate error response.
func (s *Server) loadIssue(w http.ResponseWriter, r *http.Request) (*models.Issue, bool) {
	issue, err := s.store.GetIssue(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return issue, true
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	if identity(r) == nil {
		writeError(w, http.StatusUnauthorized, permission.ReasonAuthRequired)
		return
	}
	q := r.URL.Query()
	filter := store.IssueListFilter{
		Status:     models.IssueStatus(q.Get("status")),
		Priority:   models.IssuePriority(q.Get("priority")),
		CreatorID:  q.Get("creator"),
		AssigneeID: q.Get("assignee"),
		Unassigned: q.Get("unassigned") == "true",
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	caps := permission.Evaluate(user, nil)
	if !caps.CanEdit {
		writeDenial(w, caps.Reason)
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
		AssigneeID  string `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	issue := &models.Issue{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriority(req.Priority),
		CreatedBy:   user.Ref(),
	}
	if req.AssigneeID != "" {
		assignee, err := s.store.GetUser(r.Context(), req.AssigneeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		issue.AssignedTo = assignee.Ref()
	}

	// Auto-triage priority if none was given and an LLM is available.
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
		if s.llm != nil {
			if triaged, err := s.llm.TriageIssue(r.Context(), issue.Title, issue.Description); err == nil && triaged.Priority != "" {
				issue.Priority = triaged.Priority
			}
		}
	}

	if err := s.store.CreateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	caps := permission.Evaluate(identity(r), nil)
	if !caps.CanRead {
		writeDenial(w, caps.Reason)
		return
	}
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}

	caps := permission.Evaluate(identity(r), issue)
	if !caps.CanEdit {
		writeDenial(w, caps.Reason)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Selectively merge only keys present in the patch with non-empty values.
	// Status and assignment have their own endpoints.
	patchString(patch, "title", &issue.Title)
	patchString(patch, "description", &issue.Description)

	var priority string
	patchString(patch, "priority", &priority)
	if priority != "" {
		issue.Priority = models.IssuePriority(priority)
	}

	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}

	caps := permission.Evaluate(identity(r), issue)
	decision := permission.ValidateDeletion(caps, issue)
	if !decision.Allowed {
		if !caps.CanDelete {
			writeDenial(w, decision.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, decision.Reason)
		return
	}

	if err := s.store.DeleteIssue(r.Context(), issue.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	newStatus := models.IssueStatus(req.Status)
	if !models.ValidIssueStatus(newStatus) {
		writeError(w, http.StatusBadRequest, "invalid status: "+req.Status)
		return
	}

	caps := permission.Evaluate(identity(r), issue)
	decision := permission.ValidateStatusChange(caps, issue, newStatus)
	if !decision.Allowed {
		if !caps.CanChangeStatus {
			writeDenial(w, decision.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, decision.Reason)
		return
	}

	if newStatus == issue.Status {
		writeJSON(w, http.StatusOK, issue)
		return
	}

	issue.Status = newStatus
	if newStatus == models.IssueStatusClosed {
		now := time.Now().UTC()
		issue.ClosedAt = &now
	} else {
		issue.ClosedAt = nil
	}

	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) assignIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}

	caps := permission.Evaluate(identity(r), issue)
	if !caps.CanAssign {
		writeDenial(w, caps.Reason)
		return
	}

	var req struct {
		AssigneeID string `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.AssigneeID == "" {
		issue.AssignedTo = nil
	} else {
		assignee, err := s.store.GetUser(r.Context(), req.AssigneeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		issue.AssignedTo = assignee.Ref()
	}

	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) issueCapabilities(w http.ResponseWriter, r *http.Request) {
	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, permission.Evaluate(identity(r), issue))
}

func (s *Server) triageIssue(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}

	issue, ok := s.loadIssue(w, r)
	if !ok {
		return
	}

	caps := permission.Evaluate(identity(r), issue)
	if !caps.CanEdit {
		writeDenial(w, caps.Reason)
		return
	}

	triaged, err := s.llm.TriageIssue(r.Context(), issue.Title, issue.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LLM triage failed: "+err.Error())
		return
	}

	if triaged.Priority != "" {
		issue.Priority = triaged.Priority
	}
	if triaged.Summary != "" && issue.Description == "" {
		issue.Description = triaged.Summary
	}

	if err := s.store.UpdateIssue(r.Context(), issue); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Dashboard ---

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	if identity(r) == nil {
		writeError(w, http.StatusUnauthorized, permission.ReasonAuthRequired)
		return
	}
	issues, err := s.store.ListIssues(r.Context(), store.IssueListFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analytics.Summarize(issues, time.Now().UTC()))
}
