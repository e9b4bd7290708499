package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a JSON Schema for structured replies. It compiles on first
// use; declare it once as a package variable and pass the pointer.
type Schema struct {
	Name        string // sent to OpenAI as the schema name
	Description string
	Definition  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		def, err := json.Marshal(s.Definition)
		if err != nil {
			s.err = fmt.Errorf("marshal schema %q: %w", s.Name, err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def))
		if err != nil {
			s.err = fmt.Errorf("parse schema %q: %w", s.Name, err)
			return
		}
		url := "schema://crosstask/" + s.Name + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, doc); err != nil {
			s.err = fmt.Errorf("add schema %q: %w", s.Name, err)
			return
		}
		s.compiled, s.err = c.Compile(url)
	})
	return s.compiled, s.err
}

// Check validates a reply document against the schema.
func (s *Schema) Check(raw []byte) error {
	sch, err := s.compile()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("reply is not JSON: %w", err)
	}
	return sch.Validate(inst)
}

// Placeholder returns the smallest document the schema accepts: required
// properties only, enums take their first value, strings are text.
func (s *Schema) Placeholder(text string) json.RawMessage {
	out, _ := json.Marshal(placeholder(s.Definition, text))
	return out
}

func placeholder(def map[string]any, text string) any {
	if enum, ok := def["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	switch def["type"] {
	case "object":
		props, _ := def["properties"].(map[string]any)
		obj := map[string]any{}
		for _, name := range requiredNames(def, props) {
			sub, _ := props[name].(map[string]any)
			obj[name] = placeholder(sub, text)
		}
		return obj
	case "array":
		return []any{}
	case "integer", "number":
		return 0
	case "boolean":
		return false
	default:
		return text
	}
}

func requiredNames(def, props map[string]any) []string {
	var names []string
	if req, ok := def["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
