package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/models"
)

func TestBuildTriagePrompt(t *testing.T) {
	system, user := buildTriagePrompt("Crash on startup", "Segfault when config is missing")

	assert.Contains(t, system, `"priority"`)
	assert.Contains(t, system, `"summary"`)
	assert.Contains(t, user, "Crash on startup")
	assert.Contains(t, user, "Segfault when config is missing")
}

func TestBuildTriagePrompt_NoDescription(t *testing.T) {
	_, user := buildTriagePrompt("Typo in README", "")
	assert.Contains(t, user, "Typo in README")
	assert.NotContains(t, user, "Description:")
}

func TestParseTriageResponse(t *testing.T) {
	triaged, err := parseTriageResponse(`{"priority": "high", "summary": "App crashes at boot."}`)
	require.NoError(t, err)
	assert.Equal(t, models.IssuePriorityHigh, triaged.Priority)
	assert.Equal(t, "App crashes at boot.", triaged.Summary)
}

func TestParseTriageResponse_StripsFencing(t *testing.T) {
	raw := "```json\n{\"priority\": \"low\", \"summary\": \"Cosmetic.\"}\n```"
	triaged, err := parseTriageResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.IssuePriorityLow, triaged.Priority)
}

func TestParseTriageResponse_InvalidJSON(t *testing.T) {
	_, err := parseTriageResponse("not json at all")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse LLM response"))
}

func TestParseTriageResponse_BadPriority(t *testing.T) {
	_, err := parseTriageResponse(`{"priority": "urgent", "summary": "x"}`)
	assert.Error(t, err)
}
