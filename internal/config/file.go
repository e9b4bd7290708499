package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// flatten maps every setting of c to its dotted viper key. Keys follow the
// mapstructure tags, so the result doubles as the defaults table.
func flatten(c Config) map[string]any {
	out := make(map[string]any)
	walk("", reflect.ValueOf(c), out)
	return out
}

func walk(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			walk(key, fv, out)
			continue
		}
		out[key] = fv.Interface()
	}
}

var secretKeys = map[string]bool{
	"llm.anthropic.api_key":  true,
	"llm.openai.api_key":     true,
	"llm.gemini.api_key":     true,
	"llm.openrouter.api_key": true,
}

// Render encodes c as YAML. Durations are written in time.Duration
// notation and API keys are masked when redact is set.
func Render(c Config, redact bool) ([]byte, error) {
	root := make(map[string]any)
	for key, val := range flatten(c) {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		if redact && secretKeys[key] {
			if s, _ := val.(string); s != "" {
				val = mask(s)
			}
		}
		parts := strings.Split(key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = val
	}
	return yaml.Marshal(root)
}

// WriteFile writes c to path as YAML, creating parent directories. An
// existing file is only replaced when force is set.
func WriteFile(path string, c Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := Render(c, false)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
