// Package analytics aggregates issue data into dashboard summaries.
package analytics

import (
	"sort"
	"time"

	"github.com/joescharf/tracker/internal/models"
)

// AssigneeLoad counts the active issues held by one assignee.
type AssigneeLoad struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Open       int    `json:"open"`
	InProgress int    `json:"in_progress"`
}

// Summary is the aggregate view of the issue backlog.
type Summary struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	Unassigned int            `json:"unassigned"`

	// Workload lists assignees by active issue count, busiest first.
	Workload []AssigneeLoad `json:"workload"`

	// AvgResolutionHours is the mean create-to-close time of closed issues.
	// Zero when nothing has been closed yet.
	AvgResolutionHours float64 `json:"avg_resolution_hours"`

	// OldestOpen is the creation time of the oldest issue still open or in
	// progress. Nil when the backlog is empty.
	OldestOpen *time.Time `json:"oldest_open,omitempty"`
}

// Summarize computes a Summary over the given issues as of now.
func Summarize(issues []*models.Issue, now time.Time) *Summary {
	s := &Summary{
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}

	loads := map[string]*AssigneeLoad{}
	var resolved int
	var resolutionTotal time.Duration

	for _, issue := range issues {
		s.Total++
		s.ByStatus[string(issue.Status)]++
		s.ByPriority[string(issue.Priority)]++

		if issue.AssignedTo == nil {
			s.Unassigned++
		} else if issue.Status != models.IssueStatusClosed {
			load, ok := loads[issue.AssignedTo.Email]
			if !ok {
				load = &AssigneeLoad{Email: issue.AssignedTo.Email, Name: issue.AssignedTo.Name}
				loads[issue.AssignedTo.Email] = load
			}
			switch issue.Status {
			case models.IssueStatusOpen:
				load.Open++
			case models.IssueStatusInProgress:
				load.InProgress++
			}
		}

		if issue.Status == models.IssueStatusClosed && issue.ClosedAt != nil {
			resolved++
			resolutionTotal += issue.ClosedAt.Sub(issue.CreatedAt)
		}

		if issue.Status != models.IssueStatusClosed {
			if s.OldestOpen == nil || issue.CreatedAt.Before(*s.OldestOpen) {
				t := issue.CreatedAt
				s.OldestOpen = &t
			}
		}
	}

	if resolved > 0 {
		s.AvgResolutionHours = resolutionTotal.Hours() / float64(resolved)
	}

	for _, load := range loads {
		s.Workload = append(s.Workload, *load)
	}
	sort.Slice(s.Workload, func(i, j int) bool {
		a, b := s.Workload[i], s.Workload[j]
		if a.Open+a.InProgress != b.Open+b.InProgress {
			return a.Open+a.InProgress > b.Open+b.InProgress
		}
		return a.Email < b.Email
	})

	return s
}
