package dataio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irfndi/etffactor/pkg/factors"
)

// LoadParams reads a per-factor parameter file. .json files are decoded as
// JSON and anything else as YAML, which also accepts JSON.
//
//	SMA: [5, 10, 20]
//	MACD: {fast_period: 12, slow_period: 26, signal_period: 9}
func LoadParams(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseParamsJSON(data)
	}
	return ParseParamsYAML(data)
}

// ParseParamsYAML decodes a YAML mapping of factor name to raw parameters.
func ParseParamsYAML(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid params yaml: %w", err)
	}
	return normalize(raw), nil
}

// ParseParamsJSON decodes a JSON object of factor name to raw parameters.
func ParseParamsJSON(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid params json: %w", err)
	}
	return normalize(raw), nil
}

func normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		out[factors.NormalizeName(name)] = numbers(v)
	}
	return out
}

// numbers replaces json.Number with int or float64 so the parameter
// schemas see plain Go numbers.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = numbers(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = numbers(e)
		}
		return out
	default:
		return v
	}
}
