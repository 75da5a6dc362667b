// Package llm is the advisory drafting oracle. It suggests wording only;
// suggestions reach a candidate solely through the normal draft mutation
// path and never touch readiness, risk, or evidence.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/larkspur/copdesk/internal/cop"
)

const draftPrompt = `You are a drafting assistant for a crisis information desk. Given a tracked claim, suggest public-facing wording.

Rules:
- State only what the claim's fields support. Do not invent details.
- If verification_state is not "verified", hedge the wording ("reported", "unconfirmed reports of").
- For high-stakes claims that are not verified, hedging is mandatory and you must propose a concrete next verification step.
- Keep the headline under 100 characters and the body under 400.

Return ONLY a valid JSON object, no other text:
{"headline": "...", "body": "...", "hedged": true|false, "next_step": "..."}`

// Suggestion is provisional wording. The hedged flag and next step feed the
// draft record; nothing here is authoritative.
type Suggestion struct {
	Headline string `json:"headline"`
	Body     string `json:"body"`
	Hedged   bool   `json:"hedged"`
	NextStep string `json:"next_step"`
}

// Drafter calls an OpenAI-compatible chat model for wording suggestions.
type Drafter struct {
	client *openai.Client
	model  string
}

// NewDrafter returns a drafter, or an error if no API key is configured.
func NewDrafter(apiKey, model string) (*Drafter, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Drafter{client: openai.NewClient(apiKey), model: model}, nil
}

// SuggestWording asks the model for draft wording for a candidate.
func (d *Drafter) SuggestWording(ctx context.Context, c *cop.Candidate) (*Suggestion, error) {
	input, err := json.Marshal(map[string]any{
		"what":               c.Fields.What,
		"where":              c.Fields.Where,
		"when":               c.Fields.When,
		"who":                c.Fields.Who,
		"so_what":            c.Fields.SoWhat,
		"risk_tier":          c.RiskTier,
		"verification_state": c.Readiness,
		"citation_count":     c.Evidence.Count(),
	})
	if err != nil {
		return nil, err
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(input)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("calling OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	s, err := parseSuggestion(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	// A non-verified high-stakes claim is hedged no matter what the model
	// decided.
	if c.RiskTier == cop.HighStakes && c.Readiness != cop.Verified {
		s.Hedged = true
		if strings.TrimSpace(s.NextStep) == "" {
			s.NextStep = "verify with an authoritative source before unhedged publication"
		}
	}
	return s, nil
}

func parseSuggestion(content string) (*Suggestion, error) {
	content = cleanJSONResponse(content)
	var s Suggestion
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("parsing suggestion JSON: %w (response: %s)", err, content)
	}
	if strings.TrimSpace(s.Headline) == "" && strings.TrimSpace(s.Body) == "" {
		return nil, errors.New("empty suggestion")
	}
	return &s, nil
}

// cleanJSONResponse removes markdown code blocks if present.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	return strings.TrimSpace(content)
}
