package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider answers one chat request. Implementations translate Request
// to their SDK and return failures as *Error.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID is the configured model, before any provider aliasing.
	ModelID() string
}

// Request is one assistant call: the system prompt, the conversation so
// far with the new question last, and an optional reply schema.
type Request struct {
	System   string
	Messages []Message

	// Schema, when set, asks for structured output. The reply is checked
	// against it before Generate returns.
	Schema *Schema

	MaxTokens   int
	Temperature float64 // 0 leaves the provider default
}

type Message struct {
	Role    Role
	Content string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stop is why the model stopped generating.
type Stop string

const (
	StopEnd       Stop = "end"
	StopMaxTokens Stop = "max_tokens"
)

// Response is a successful reply.
type Response struct {
	// Content is the JSON document when the request had a Schema, and
	// the raw text otherwise.
	Content json.RawMessage
	Usage   Usage
	Model   string // the model that served the request
	Stop    Stop
}

// Decode unmarshals a structured reply into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Content, v); err != nil {
		return fmt.Errorf("decode %s reply: %w", r.Model, err)
	}
	return nil
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// finish checks a raw provider reply against req. A structured reply
// that hit MaxTokens is reported as truncated rather than invalid, since
// retrying with the same limit cannot fix it.
func finish(provider string, req Request, text string, resp *Response) (*Response, error) {
	resp.Content = json.RawMessage(text)
	if req.Schema == nil {
		return resp, nil
	}
	if resp.Stop == StopMaxTokens {
		return nil, &Error{Kind: KindTruncated, Provider: provider, Content: resp.Content}
	}
	if err := req.Schema.Check(resp.Content); err != nil {
		return nil, &Error{Kind: KindInvalid, Provider: provider, Content: resp.Content, Err: err}
	}
	return resp, nil
}

// resolveModel maps a short alias to a full model id. Unknown names pass
// through, so any model id the provider accepts can be configured.
func resolveModel(name string, aliases map[string]string) string {
	if id, ok := aliases[name]; ok {
		return id
	}
	return name
}
