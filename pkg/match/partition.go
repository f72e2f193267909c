package match

import (
	"strings"
)

// Partition is one hive-style "column=value" path segment.
type Partition struct {
	Column string
	Value  string
}

// HivePartitions returns the "col=value" directory segments of key, in
// order. The final segment (the file name) is never a partition.
func HivePartitions(key string) []Partition {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	if len(segments) > 0 && !strings.HasSuffix(key, "/") {
		segments = segments[:len(segments)-1]
	}
	var out []Partition
	for _, seg := range segments {
		col, val, ok := strings.Cut(seg, "=")
		if !ok || col == "" {
			continue
		}
		out = append(out, Partition{Column: col, Value: val})
	}
	return out
}

// PartitionPath renders partitions as "col=value/col=value/".
func PartitionPath(parts []Partition) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Column)
		b.WriteByte('=')
		b.WriteString(p.Value)
		b.WriteByte('/')
	}
	return b.String()
}
