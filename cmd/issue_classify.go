package cmd

import (
	"strings"

	"github.com/joescharf/tracker/internal/models"
)

// Keyword sets for offline priority classification, used when no LLM client
// is configured.
var (
	highPriorityKeywords = []string{
		"crash", "panic", "data loss", "security", "outage", "urgent",
		"broken", "cannot", "can't", "fails", "critical", "regression",
	}
	lowPriorityKeywords = []string{
		"typo", "cosmetic", "cleanup", "nice to have", "someday",
		"polish", "minor", "docs", "documentation", "rename",
	}
)

// classifyIssuePriority guesses a priority from the issue text.
func classifyIssuePriority(title, description string) models.IssuePriority {
	text := strings.ToLower(title + " " + description)

	for _, kw := range highPriorityKeywords {
		if strings.Contains(text, kw) {
			return models.IssuePriorityHigh
		}
	}
	for _, kw := range lowPriorityKeywords {
		if strings.Contains(text, kw) {
			return models.IssuePriorityLow
		}
	}
	return models.IssuePriorityMedium
}
