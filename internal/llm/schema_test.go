package llm

import (
	"encoding/json"
	"testing"
)

// hintSchema has the shape of the chat assistant's reply.
var hintSchema = &Schema{
	Name:        "chat-hint",
	Description: "A classified hint",
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
			"answer": map[string]any{"type": "string"},
		},
		"required":             []any{"category", "family", "answer"},
		"additionalProperties": false,
	},
}

const validHint = `{"category":"strategy","family":"count","answer":"Scan one row at a time."}`

func TestSchema_Check(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", validHint, false},
		{"unknown category", `{"category":"cheat","family":"count","answer":"42"}`, true},
		{"missing answer", `{"category":"strategy","family":"count"}`, true},
		{"extra field", `{"category":"strategy","family":"count","answer":"a","solution":"42"}`, true},
		{"not json", "strategy\ncount\nScan rows.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hintSchema.Check([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_PlaceholderPassesCheck(t *testing.T) {
	doc := hintSchema.Placeholder("offline")
	if err := hintSchema.Check(doc); err != nil {
		t.Fatalf("Check(Placeholder) = %v, want nil", err)
	}
	var got struct{ Category, Family, Answer string }
	if err := json.Unmarshal(doc, &got); err != nil {
		t.Fatal(err)
	}
	if got.Category != "task-help" || got.Family != "count" || got.Answer != "offline" {
		t.Errorf("Placeholder = %s, want first enum values and the given text", doc)
	}
}

func TestSchema_PlaceholderWithoutRequired(t *testing.T) {
	s := &Schema{Name: "tally", Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n":    map[string]any{"type": "integer"},
			"ok":   map[string]any{"type": "boolean"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}}
	got := string(s.Placeholder("x"))
	if want := `{"n":0,"ok":false,"tags":[]}`; got != want {
		t.Errorf("Placeholder = %s, want %s", got, want)
	}
}

func TestSchema_CompileErrorIsSticky(t *testing.T) {
	s := &Schema{Name: "broken", Definition: map[string]any{"type": func() {}}}
	first := s.Check([]byte(`{}`))
	if first == nil {
		t.Fatal("Check() = nil, want marshal error")
	}
	if second := s.Check([]byte(`{}`)); second == nil || second.Error() != first.Error() {
		t.Errorf("second Check() = %v, want %v", second, first)
	}
}
