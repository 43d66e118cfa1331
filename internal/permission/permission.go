// Package permission decides what a requester may do to an issue.
//
// Evaluation is pure and stateless: a capability set is derived fresh from
// the requester and the issue's current creator/assignee on every call, and
// is never cached. Denials are ordinary return values carrying user-facing
// reason text, never errors.
package permission

import (
	"fmt"

	"github.com/joescharf/tracker/internal/models"
)

// ReasonAuthRequired is returned when no authenticated identity is present.
const ReasonAuthRequired = "Authentication required"

// CapabilitySet holds the computed permissions of one requester against one
// issue, plus the derived role flags used for reason text and UI affordances.
type CapabilitySet struct {
	CanRead         bool `json:"can_read"`
	CanEdit         bool `json:"can_edit"`
	CanChangeStatus bool `json:"can_change_status"`
	CanDelete       bool `json:"can_delete"`
	CanAssign       bool `json:"can_assign"`

	IsCreator    bool `json:"is_creator"`
	IsAssignee   bool `json:"is_assignee"`
	IsUnassigned bool `json:"is_unassigned"`

	// Reason explains the first missing capability, checked in the order
	// edit, status, delete, assign. Empty when everything is granted.
	Reason string `json:"reason,omitempty"`
}

// Evaluate derives the capability set for identity against issue.
//
// identity == nil means the request is unauthenticated: everything is denied.
// issue == nil means the issue is still being drafted (no persisted record
// yet): the user may compose and assign freely, but there is nothing to
// change status of or delete.
func Evaluate(identity *models.User, issue *models.Issue) CapabilitySet {
	if identity == nil {
		return CapabilitySet{Reason: ReasonAuthRequired}
	}

	if issue == nil {
		return CapabilitySet{
			CanRead:      true,
			CanEdit:      true,
			CanAssign:    true,
			IsUnassigned: true,
		}
	}

	caps := CapabilitySet{CanRead: true}
	caps.IsCreator = emailMatches(identity.Email, issue.CreatedBy)
	caps.IsAssignee = emailMatches(identity.Email, issue.AssignedTo)
	caps.IsUnassigned = issue.AssignedTo == nil

	caps.CanEdit = caps.IsCreator
	caps.CanDelete = caps.IsCreator
	caps.CanAssign = caps.IsCreator
	// The IsUnassigned guard is redundant (an unassigned issue matches no
	// assignee email), but both conditions must hold independently.
	caps.CanChangeStatus = caps.IsAssignee && !caps.IsUnassigned

	caps.Reason = denialReason(caps, issue)
	return caps
}

// emailMatches reports whether email equals ref's email. An absent ref or an
// empty email on either side never matches: two missing emails are not equal.
func emailMatches(email string, ref *models.UserRef) bool {
	if ref == nil || email == "" || ref.Email == "" {
		return false
	}
	return email == ref.Email
}

// denialReason names the first capability that is missing, identifying the
// qualifying role-holder by email where one is on record.
func denialReason(caps CapabilitySet, issue *models.Issue) string {
	switch {
	case !caps.CanEdit:
		return creatorReason(issue, "edit")
	case !caps.CanChangeStatus:
		if caps.IsUnassigned {
			return "This issue must be assigned to someone before its status can be changed"
		}
		return fmt.Sprintf("Only the assignee (%s) can change the status of this issue", issue.AssignedTo.Email)
	case !caps.CanDelete:
		return creatorReason(issue, "delete")
	case !caps.CanAssign:
		return creatorReason(issue, "assign")
	}
	return ""
}

func creatorReason(issue *models.Issue, verb string) string {
	if issue.CreatedBy == nil || issue.CreatedBy.Email == "" {
		return fmt.Sprintf("Only the issue creator can %s this issue, and no creator is on record", verb)
	}
	return fmt.Sprintf("Only the issue creator (%s) can %s this issue", issue.CreatedBy.Email, verb)
}
