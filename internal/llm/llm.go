package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/tracker/internal/models"
)

// Client wraps the Anthropic API for issue triage.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// TriagedIssue holds the LLM-generated triage fields for an issue.
type TriagedIssue struct {
	Priority models.IssuePriority `json:"priority"`
	Summary  string               `json:"summary"`
}

// buildTriagePrompt constructs the system and user prompts for issue triage.
func buildTriagePrompt(title, description string) (system string, user string) {
	system = `You triage issues for an issue tracker. Given an issue's title and optional description, return a JSON object with exactly two fields:

- "priority": one of "low", "medium", "high". Data loss, security problems, crashes, and anything blocking many users are "high". Cosmetic issues, typos, and nice-to-haves are "low". Everything else is "medium".
- "summary": a concise 1-2 sentence summary of what this issue is about, suitable for display in an issue tracker.

Rules:
- Return valid JSON only, no markdown fencing or explanation
- If the description is empty, infer as much as possible from the title alone`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// TriageIssue sends issue data to the LLM and returns a suggested priority and summary.
func (c *Client) TriageIssue(ctx context.Context, title, description string) (*TriagedIssue, error) {
	systemPrompt, userPrompt := buildTriagePrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	triaged, err := parseTriageResponse(text)
	if err != nil {
		return nil, err
	}
	return triaged, nil
}

// parseTriageResponse strips markdown fencing and decodes the JSON payload.
func parseTriageResponse(text string) (*TriagedIssue, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var triaged TriagedIssue
	if err := json.Unmarshal([]byte(text), &triaged); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if triaged.Priority != "" {
		switch triaged.Priority {
		case models.IssuePriorityLow, models.IssuePriorityMedium, models.IssuePriorityHigh:
		default:
			return nil, fmt.Errorf("unexpected priority in LLM response: %q", triaged.Priority)
		}
	}
	return &triaged, nil
}
