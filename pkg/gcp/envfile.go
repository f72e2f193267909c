package gcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnvFile reads a flat KEY: value mapping of environment variables
// from a .yaml, .yml or .json file. Non-string values are formatted, so
// `DEBUG: true` becomes "true". An empty file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	raw := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if len(strings.TrimSpace(string(data))) > 0 {
			err = json.Unmarshal(data, &raw)
		}
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("%w: env file %q must be .yaml, .yml or .json", ErrInvalidArgument, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: env file %q: %v", ErrInvalidArgument, path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case map[string]any, []any:
			return nil, fmt.Errorf("%w: env var %q in %q is not a scalar", ErrInvalidArgument, k, path)
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out, nil
}

// MergeEnv layers env maps left to right; later maps win.
func MergeEnv(layers ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// EnvKeys returns the keys of env in sorted order.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
