package permission

import "github.com/joescharf/tracker/internal/models"

// Decision is the outcome of a transition or deletion check. A denial is an
// ordinary value so callers can render Reason directly to the end user.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	reasonReopenClosed = "Closed issues cannot be reopened. Ask the creator to create a new issue."
	reasonResumeClosed = "Closed issues cannot be moved back to in progress. Ask the creator to create a new issue."
	reasonAssignFirst  = "Issue must be assigned to someone before it can be marked as in progress."
	reasonDeleteActive = "Cannot delete issues that are in progress. Change status first."
)

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// ValidateStatusChange decides whether the requester may move issue from its
// current status to newStatus. caps must come from Evaluate for the same
// identity and issue; the capability denial reason is propagated as-is.
//
// A "transition" to the current status is allowed and is a no-op for the
// caller. Closed issues can be neither reopened nor resumed, and nothing can
// enter in_progress while unassigned (this repeats the capability-layer
// guard on purpose; both checks must hold independently).
func ValidateStatusChange(caps CapabilitySet, issue *models.Issue, newStatus models.IssueStatus) Decision {
	if !caps.CanChangeStatus {
		return deny(caps.Reason)
	}

	if newStatus == issue.Status {
		return allow()
	}

	if issue.Status == models.IssueStatusClosed {
		switch newStatus {
		case models.IssueStatusOpen:
			return deny(reasonReopenClosed)
		case models.IssueStatusInProgress:
			return deny(reasonResumeClosed)
		}
	}

	if newStatus == models.IssueStatusInProgress && issue.AssignedTo == nil {
		return deny(reasonAssignFirst)
	}

	return allow()
}

// ValidateDeletion decides whether the requester may delete the issue.
// In-progress issues are protected regardless of capability.
func ValidateDeletion(caps CapabilitySet, issue *models.Issue) Decision {
	if !caps.CanDelete {
		return deny(caps.Reason)
	}
	if issue.Status == models.IssueStatusInProgress {
		return deny(reasonDeleteActive)
	}
	return allow()
}
