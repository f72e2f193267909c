package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// parseKeyValues parses repeated key=value flags.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", gcp.ErrInvalidArgument, p)
		}
		out[k] = v
	}
	return out, nil
}

// parseParams parses key=value flags whose values are JSON when they
// decode as JSON and plain strings otherwise, so n=3 is a number and
// name=abc a string.
func parseParams(pairs []string) (map[string]any, error) {
	kv, err := parseKeyValues(pairs)
	if err != nil || kv == nil {
		return nil, err
	}
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = parseValue(v)
	}
	return out, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
