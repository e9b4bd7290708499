package chat

import (
	"context"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/llm"
)

const systemPrompt = `You are the help assistant in a timed puzzle study. The participant works on
nine small tasks in three families: counting symbols in a grid, matching a
target value with a slider, and typing a shown passage exactly.

Give short, practical hints. Never solve a task outright and never reveal a
final count, value or passage. Keep answers under 80 words.

Classify every question:
- category: one of task-help, strategy, procedure, off-topic
- family: one of count, match, type, none`

var replySchema = &llm.Schema{
	Name:        "chat-reply",
	Description: "A classified hint for a puzzle participant",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{
				"type": "string",
				"enum": []any{"task-help", "strategy", "procedure", "off-topic"},
			},
			"family": map[string]any{
				"type": "string",
				"enum": []any{"count", "match", "type", "none"},
			},
			"answer": map[string]any{
				"type":        "string",
				"description": "The hint shown to the participant",
			},
		},
		"required":             []any{"category", "family", "answer"},
		"additionalProperties": false,
	},
}

type llmReply struct {
	Category string `json:"category"`
	Family   string `json:"family"`
	Answer   string `json:"answer"`
}

// LLMService answers with an llm.Provider. Structured output gives the
// two tags and the answer, which are rendered into the tagged text form
// the HTTP service returns.
type LLMService struct {
	Provider  llm.Provider
	MaxTokens int
}

func (s *LLMService) Reply(ctx context.Context, req Request) (string, error) {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, t := range req.History {
		role := llm.RoleUser
		if t.Role == budget.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})

	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 400
	}
	resp, err := s.Provider.Generate(llm.WithPurpose(ctx, "chat"), llm.Request{
		System:      systemPrompt,
		Messages:    msgs,
		Schema:      replySchema,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", &ServiceError{Backend: "llm", Err: err}
	}

	var out llmReply
	if err := resp.Decode(&out); err != nil {
		return "", &ServiceError{Backend: "llm", Err: err}
	}
	return FormatReply([]string{out.Category, out.Family}, out.Answer), nil
}
