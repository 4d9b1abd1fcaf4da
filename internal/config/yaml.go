package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// coerceToJSONBytes turns a YAML document into JSON so both formats go
// through the same strict decoder. JSON input is returned unchanged.
// The second result is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	if !isYAML(path) {
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	if doc == nil {
		// Empty document: all defaults.
		return []byte("{}"), "yaml", nil
	}
	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json: %w", err)
	}
	return j, "yaml", nil
}

// stringKeys rewrites map[any]any nodes (non-string YAML keys) so the tree
// can be JSON-marshaled.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
