package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusClosed     IssueStatus = "closed"
)

// ValidIssueStatus reports whether s is one of the three known statuses.
func ValidIssueStatus(s IssueStatus) bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusClosed:
		return true
	}
	return false
}

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
)

// Issue represents a tracked issue as consumed by permission checks and
// handlers. CreatedBy is nil when the creator is not on record (legacy rows);
// AssignedTo is nil when the issue is unassigned.
type Issue struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      IssueStatus   `json:"status"`
	Priority    IssuePriority `json:"priority"`
	CreatedBy   *UserRef      `json:"created_by,omitempty"`
	AssignedTo  *UserRef      `json:"assigned_to,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
}

// Unassigned reports whether the issue has no assignee.
func (i *Issue) Unassigned() bool {
	return i.AssignedTo == nil
}
