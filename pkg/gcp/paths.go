package gcp

import (
	"fmt"
	"strings"
)

// SplitPath splits p on sep and drops empty segments.
func SplitPath(p, sep string) []string {
	raw := strings.Split(p, sep)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ShortName returns the last "/"-separated segment of a resource name.
func ShortName(full string) string {
	full = strings.TrimSuffix(full, "/")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}

// ProjectPath returns "projects/{project}".
func ProjectPath(project string) string {
	return "projects/" + project
}

// LocationPath returns "projects/{project}/locations/{location}".
func LocationPath(project, location string) string {
	return fmt.Sprintf("projects/%s/locations/%s", project, location)
}

// ResourceSegments parses an alternating "kind/name/kind/name" resource name
// into a kind→name map. Trailing unpaired segments are ignored.
func ResourceSegments(full string) map[string]string {
	parts := SplitPath(full, "/")
	out := make(map[string]string, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		out[parts[i]] = parts[i+1]
	}
	return out
}

// DefaultServiceAccountAlias is the account name callers pass to ask for
// DefaultServiceAccount.
const DefaultServiceAccountAlias = "DEFAULT"

// DefaultServiceAccount returns the default compute-style service account
// email gcpal uses when a caller asks for "DEFAULT".
func DefaultServiceAccount(project string) string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", project, project)
}
