package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeConfig decodes raw file content into a Config. YAML files are first
// re-encoded as JSON so both formats go through the same strict decoder and
// reject unknown fields. Errors carry the file name.
func decodeConfig(path string, raw []byte) (*Config, error) {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		jb, err := json.Marshal(stringKeys(doc))
		if err != nil {
			return nil, fmt.Errorf("%s: re-encode yaml: %w", name, err)
		}
		raw = jb
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return &cfg, nil
	case err == nil:
		return nil, fmt.Errorf("%s: trailing data after config", name)
	default:
		return nil, fmt.Errorf("%s: %w", name, err)
	}
}

// stringKeys rewrites YAML maps with non-string keys (e.g. `1: x`) so the
// document can be marshalled as JSON.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = stringKeys(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = stringKeys(val)
		}
		return x
	default:
		return v
	}
}
