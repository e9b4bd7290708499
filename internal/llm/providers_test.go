package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/llm"
	"github.com/abhisek/crosstask/internal/store"
)

const hint = `{"category":"strategy","family":"count","answer":"Scan one row at a time."}`

// fakeAPI answers each request with the next scripted reply and keeps
// the raw request bodies.
type fakeAPI struct {
	mu      sync.Mutex
	replies []fakeReply
	bodies  []string
	paths   []string
}

type fakeReply struct {
	status int
	body   any
}

func newFakeAPI(t *testing.T, replies ...fakeReply) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{replies: replies}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.paths = append(f.paths, r.URL.Path)
	next := fakeReply{status: http.StatusInternalServerError, body: map[string]any{"error": "no reply scripted"}}
	if len(f.replies) > 0 {
		next, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	json.NewEncoder(w).Encode(next.body)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeAPI) body(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[i]
}

func (f *fakeAPI) path(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[i]
}

type eventSink struct {
	mu      sync.Mutex
	records []store.LLMRequestEventData
}

func (s *eventSink) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, data)
	return nil
}

func (s *eventSink) all() []store.LLMRequestEventData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.LLMRequestEventData(nil), s.records...)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func retries(n int) llm.RetryConfig {
	return llm.RetryConfig{MaxAttempts: n, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

// ask sends one participant question through the chat assistant's
// reply service, tagged with a session the way the assistant tags it.
func ask(t *testing.T, cfg llm.Config, sink *eventSink) (string, error) {
	t.Helper()
	p, err := llm.NewProvider(context.Background(), cfg, sink, quiet)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	svc := &chat.LLMService{Provider: p}
	return svc.Reply(llm.WithSession(context.Background(), "sess-42"), chat.Request{
		Message: "how do I count faster?",
		History: []budget.Turn{
			{Role: budget.RoleUser, Content: "hi"},
			{Role: budget.RoleAssistant, Content: "hello"},
		},
	})
}

func wantHint(t *testing.T, raw string) {
	t.Helper()
	r := chat.ParseReply(raw)
	if strings.Join(r.Tags, ",") != "strategy,count" || r.Answer != "Scan one row at a time." {
		t.Errorf("reply = %+v, want strategy/count hint", r)
	}
}

func wantKind(t *testing.T, err error, want llm.Kind) {
	t.Helper()
	if kind, ok := llm.KindOf(err); !ok || kind != want {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func wantRecord(t *testing.T, rec store.LLMRequestEventData, provider, model string) {
	t.Helper()
	if rec.SessionID != "sess-42" || rec.Purpose != "chat" {
		t.Errorf("record session/purpose = %q/%q, want sess-42/chat", rec.SessionID, rec.Purpose)
	}
	if rec.Provider != provider || rec.Model != model {
		t.Errorf("record provider/model = %q/%q, want %q/%q", rec.Provider, rec.Model, provider, model)
	}
	if !strings.Contains(rec.RequestBody, "[schema: chat-reply]") {
		t.Errorf("RequestBody = %q, want the chat-reply schema", rec.RequestBody)
	}
}

func anthropicMessage(text, stop string) fakeReply {
	return fakeReply{status: http.StatusOK, body: map[string]any{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"content":     []any{map[string]any{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 310, "output_tokens": 24},
	}}
}

func anthropicConfig(url string, attempts int) llm.Config {
	return llm.Config{
		Provider:  "anthropic",
		Anthropic: llm.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-haiku", BaseURL: url},
		Retry:     retries(attempts),
	}
}

func TestAnthropic_ChatReply(t *testing.T) {
	api, srv := newFakeAPI(t, anthropicMessage(hint, "end_turn"))
	sink := &eventSink{}

	raw, err := ask(t, anthropicConfig(srv.URL, 1), sink)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	wantHint(t, raw)

	var sent struct {
		Model    string           `json:"model"`
		System   []map[string]any `json:"system"`
		Messages []map[string]any `json:"messages"`
		Output   struct {
			Format struct {
				Type   string         `json:"type"`
				Schema map[string]any `json:"schema"`
			} `json:"format"`
		} `json:"output_config"`
	}
	if err := json.Unmarshal([]byte(api.body(0)), &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %q, want the resolved alias", sent.Model)
	}
	if len(sent.Messages) != 3 || sent.Messages[1]["role"] != "assistant" {
		t.Errorf("messages = %v, want user/assistant/user", sent.Messages)
	}
	if len(sent.System) != 1 || !strings.Contains(sent.System[0]["text"].(string), "Never solve a task") {
		t.Errorf("system = %v, want the assistant prompt", sent.System)
	}
	if sent.Output.Format.Type != "json_schema" || sent.Output.Format.Schema["required"] == nil {
		t.Errorf("output_config = %+v, want the reply schema", sent.Output)
	}

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	wantRecord(t, recs[0], "anthropic", "claude-haiku-4-5-20251001")
	if !recs[0].Success || recs[0].InputTokens != 310 || recs[0].OutputTokens != 24 {
		t.Errorf("record = %+v, want success with 310/24 tokens", recs[0])
	}
}

func TestAnthropic_RateLimited(t *testing.T) {
	api, srv := newFakeAPI(t, fakeReply{status: http.StatusTooManyRequests, body: map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
	}})
	sink := &eventSink{}

	_, err := ask(t, anthropicConfig(srv.URL, 1), sink)
	wantKind(t, err, llm.KindRateLimited)
	if api.calls() != 1 {
		t.Errorf("calls = %d, want 1", api.calls())
	}
	if recs := sink.all(); len(recs) != 1 || recs[0].Success || recs[0].ErrorMessage == "" {
		t.Errorf("records = %+v, want one failed record", recs)
	}
}

func TestAnthropic_TruncatedNotRetried(t *testing.T) {
	api, srv := newFakeAPI(t,
		anthropicMessage(`{"category":"strategy","fam`, "max_tokens"),
		anthropicMessage(hint, "end_turn"),
	)
	_, err := ask(t, anthropicConfig(srv.URL, 3), &eventSink{})
	wantKind(t, err, llm.KindTruncated)
	if api.calls() != 1 {
		t.Errorf("calls = %d, want 1", api.calls())
	}
}

func openAICompletion(content string) fakeReply {
	return fakeReply{status: http.StatusOK, body: map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1760000000,
		"model":   "gpt-4o-mini-2024-07-18",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 280, "completion_tokens": 30, "total_tokens": 310},
	}}
}

func openAIError(status int, msg string) fakeReply {
	return fakeReply{status: status, body: map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	}}
}

func openAIConfig(url string, attempts int) llm.Config {
	return llm.Config{
		Provider: "openai",
		OpenAI:   llm.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: url},
		Retry:    retries(attempts),
	}
}

func TestOpenAI_ChatReply(t *testing.T) {
	api, srv := newFakeAPI(t, openAICompletion(hint))
	sink := &eventSink{}

	raw, err := ask(t, openAIConfig(srv.URL, 1), sink)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	wantHint(t, raw)

	var sent struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Format struct {
			Type   string `json:"type"`
			Schema struct {
				Name   string `json:"name"`
				Strict bool   `json:"strict"`
			} `json:"json_schema"`
		} `json:"response_format"`
	}
	if err := json.Unmarshal([]byte(api.body(0)), &sent); err != nil {
		t.Fatal(err)
	}
	if len(sent.Messages) != 4 || sent.Messages[0].Role != "system" || sent.Messages[3].Content != "how do I count faster?" {
		t.Errorf("messages = %+v, want system then the three turns", sent.Messages)
	}
	if sent.Format.Type != "json_schema" || sent.Format.Schema.Name != "chat-reply" || !sent.Format.Schema.Strict {
		t.Errorf("response_format = %+v, want strict chat-reply schema", sent.Format)
	}

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	wantRecord(t, recs[0], "openai", "gpt-4o-mini-2024-07-18")
	if recs[0].InputTokens != 280 || recs[0].OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 280/30", recs[0].InputTokens, recs[0].OutputTokens)
	}
}

func TestOpenAI_InvalidReplyRetried(t *testing.T) {
	bad := `{"category":"cheat","family":"count","answer":"It is 42."}`
	api, srv := newFakeAPI(t, openAICompletion(bad), openAICompletion(hint))
	sink := &eventSink{}

	raw, err := ask(t, openAIConfig(srv.URL, 3), sink)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	wantHint(t, raw)
	if api.calls() != 2 {
		t.Errorf("calls = %d, want 2", api.calls())
	}
	recs := sink.all()
	if len(recs) != 2 || recs[0].Success || recs[0].ResponseBody != bad || !recs[1].Success {
		t.Errorf("records = %+v, want the invalid reply kept then a success", recs)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	tests := []struct {
		name      string
		reply     fakeReply
		attempts  int
		want      llm.Kind
		wantCalls int
	}{
		{"bad key", openAIError(http.StatusUnauthorized, "bad key"), 3, llm.KindRejected, 1},
		{"bad request", openAIError(http.StatusBadRequest, "bad schema"), 3, llm.KindRejected, 1},
		{"server error", openAIError(http.StatusInternalServerError, "oops"), 1, llm.KindUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t, tt.reply)
			_, err := ask(t, openAIConfig(srv.URL, tt.attempts), &eventSink{})
			wantKind(t, err, tt.want)
			if api.calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", api.calls(), tt.wantCalls)
			}
		})
	}
}

func openRouterConfig(url string) llm.Config {
	return llm.Config{
		Provider:   "openrouter",
		OpenRouter: llm.OpenRouterConfig{APIKey: "sk-or-test", Model: "openai/gpt-4o-mini", BaseURL: url},
		Retry:      retries(1),
	}
}

func TestOpenRouter_ChatReply(t *testing.T) {
	api, srv := newFakeAPI(t, openAICompletion(hint))
	sink := &eventSink{}

	raw, err := ask(t, openRouterConfig(srv.URL), sink)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	wantHint(t, raw)
	if !strings.Contains(api.body(0), `"model":"openai/gpt-4o-mini"`) {
		t.Errorf("request = %s, want the vendor-prefixed model", api.body(0))
	}
	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	wantRecord(t, recs[0], "openrouter", "gpt-4o-mini-2024-07-18")
}

func TestOpenRouter_RateLimitedNamesProvider(t *testing.T) {
	_, srv := newFakeAPI(t, openAIError(http.StatusTooManyRequests, "slow down"))
	_, err := ask(t, openRouterConfig(srv.URL), &eventSink{})
	wantKind(t, err, llm.KindRateLimited)
	if err == nil || !strings.Contains(err.Error(), "openrouter: rate limited") {
		t.Errorf("error = %v, want it to name openrouter", err)
	}
}

func geminiContent(text string) fakeReply {
	return fakeReply{status: http.StatusOK, body: map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"parts": []any{map[string]any{"text": text}}, "role": "model"},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 260, "candidatesTokenCount": 21, "totalTokenCount": 281},
		"modelVersion":  "gemini-2.5-flash-001",
	}}
}

func geminiConfig(url string) llm.Config {
	return llm.Config{
		Provider: "gemini",
		Gemini:   llm.GeminiConfig{APIKey: "gm-test", Model: "gemini-flash", BaseURL: url},
		Retry:    retries(1),
	}
}

func TestGemini_ChatReply(t *testing.T) {
	api, srv := newFakeAPI(t, geminiContent(hint))
	sink := &eventSink{}

	raw, err := ask(t, geminiConfig(srv.URL), sink)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	wantHint(t, raw)
	if path := api.path(0); !strings.HasSuffix(path, "models/gemini-2.5-flash:generateContent") {
		t.Errorf("path = %q, want generateContent on the resolved model", path)
	}
	for _, part := range []string{"responseSchema", "Never solve a task"} {
		if !strings.Contains(api.body(0), part) {
			t.Errorf("request = %s, want it to contain %q", api.body(0), part)
		}
	}

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	wantRecord(t, recs[0], "gemini", "gemini-2.5-flash-001")
	if recs[0].InputTokens != 260 || recs[0].OutputTokens != 21 {
		t.Errorf("tokens = %d/%d, want 260/21", recs[0].InputTokens, recs[0].OutputTokens)
	}
}

func TestGemini_InvalidReply(t *testing.T) {
	_, srv := newFakeAPI(t, geminiContent("Scan one row at a time."))
	sink := &eventSink{}

	_, err := ask(t, geminiConfig(srv.URL), sink)
	wantKind(t, err, llm.KindInvalid)
	if recs := sink.all(); len(recs) != 1 || recs[0].ResponseBody != "Scan one row at a time." {
		t.Errorf("records = %+v, want the invalid reply kept", recs)
	}
}

func TestGemini_Unavailable(t *testing.T) {
	_, srv := newFakeAPI(t, fakeReply{status: http.StatusServiceUnavailable, body: map[string]any{
		"error": map[string]any{"code": 503, "message": "overloaded", "status": "UNAVAILABLE"},
	}})
	_, err := ask(t, geminiConfig(srv.URL), &eventSink{})
	wantKind(t, err, llm.KindUnavailable)
}
