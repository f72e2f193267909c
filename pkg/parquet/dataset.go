package parquet

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/gcpal/pkg/match"
	"github.com/3leaps/gcpal/pkg/schema"
)

// Store is the object access a dataset needs. Paths are "/"-separated and
// relative to whatever root the store exposes.
type Store interface {
	// IsFile reports whether p names an object.
	IsFile(ctx context.Context, p string) (bool, error)

	// ListFiles returns every object path under dir, recursively.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	ReadBytes(ctx context.Context, p string) ([]byte, error)
	WriteBytes(ctx context.Context, p string, data []byte) error
}

// WriteOptions controls Write.
type WriteOptions struct {
	// PartitionCols splits rows into a hive layout, one directory level per
	// column, in order.
	PartitionCols []string

	// Schema overrides inference. Partition columns are removed from it.
	Schema *schema.Schema
}

// ReadOptions controls Read.
type ReadOptions struct {
	// Filters drop rows that fail any filter.
	Filters []Filter

	// Columns projects the result. Empty keeps every column.
	Columns []string
}

// Write stores rows at p. Without partition columns p is a single object;
// with them p is a directory of "col=value/.../0.parquet" objects.
func Write(ctx context.Context, store Store, p string, rows []map[string]any, opts WriteOptions) error {
	if len(opts.PartitionCols) == 0 {
		data, err := Encode(rows, opts.Schema)
		if err != nil {
			return err
		}
		return store.WriteBytes(ctx, p, data)
	}

	groups, order := partitionRows(rows, opts.PartitionCols)
	sch := opts.Schema
	if sch == nil {
		inferred, err := schema.InferFromRows(stripColumns(rows, opts.PartitionCols))
		if err != nil {
			return fmt.Errorf("parquet: infer schema: %w", err)
		}
		sch = inferred
	} else {
		sch = withoutColumns(sch, opts.PartitionCols)
	}

	base := strings.TrimSuffix(p, "/")
	for _, dir := range order {
		data, err := Encode(groups[dir], sch)
		if err != nil {
			return fmt.Errorf("partition %s: %w", dir, err)
		}
		if err := store.WriteBytes(ctx, base+"/"+dir+"0.parquet", data); err != nil {
			return err
		}
	}
	return nil
}

// partitionRows groups rows by their partition directory. Groups keep the
// order in which their first row appears.
func partitionRows(rows []map[string]any, cols []string) (map[string][]map[string]any, []string) {
	groups := map[string][]map[string]any{}
	var order []string
	for _, row := range rows {
		parts := make([]match.Partition, 0, len(cols))
		for _, c := range cols {
			parts = append(parts, match.Partition{Column: c, Value: partitionValue(row[c])})
		}
		dir := match.PartitionPath(parts)
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], dropKeys(row, cols))
	}
	return groups, order
}

func partitionValue(v any) string {
	if v == nil {
		return "__HIVE_DEFAULT_PARTITION__"
	}
	return fmt.Sprint(v)
}

func dropKeys(row map[string]any, cols []string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, c := range cols {
		delete(out, c)
	}
	return out
}

func stripColumns(rows []map[string]any, cols []string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = dropKeys(r, cols)
	}
	return out
}

func withoutColumns(sch *schema.Schema, cols []string) *schema.Schema {
	drop := map[string]bool{}
	for _, c := range cols {
		drop[c] = true
	}
	out := &schema.Schema{}
	for _, f := range sch.Fields {
		if !drop[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Read loads rows from a single object or from every *.parquet object
// under a directory. Hive partition segments become columns again.
func Read(ctx context.Context, store Store, p string, opts ReadOptions) ([]map[string]any, error) {
	isFile, err := store.IsFile(ctx, p)
	if err != nil {
		return nil, err
	}
	if isFile {
		data, err := store.ReadBytes(ctx, p)
		if err != nil {
			return nil, err
		}
		rows, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		return finish(rows, opts), nil
	}

	dir := strings.TrimSuffix(p, "/") + "/"
	files, err := store.ListFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []map[string]any
	for _, f := range files {
		if !isDataFile(f) {
			continue
		}
		rel := strings.TrimPrefix(f, dir)
		parts := partitionColumns(rel)
		if !partitionMatches(parts, opts.Filters) {
			continue
		}
		data, err := store.ReadBytes(ctx, f)
		if err != nil {
			return nil, err
		}
		rows, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		for _, r := range rows {
			for k, v := range parts {
				r[k] = v
			}
		}
		out = append(out, rows...)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return finish(out, opts), nil
}

func isDataFile(p string) bool {
	base := path.Base(p)
	if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".parquet")
}

func partitionColumns(rel string) map[string]any {
	out := map[string]any{}
	for _, part := range match.HivePartitions(rel) {
		out[part.Column] = ParsePartitionValue(part.Value)
	}
	return out
}

// ParsePartitionValue types a partition segment value: int, then float,
// else the string itself. The hive default partition reads as nil.
func ParsePartitionValue(s string) any {
	if s == "__HIVE_DEFAULT_PARTITION__" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// partitionMatches prunes a file before it is read when a filter on a
// partition column already rules it out.
func partitionMatches(parts map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if _, ok := parts[f.Column]; !ok {
			continue
		}
		if !f.Match(parts) {
			return false
		}
	}
	return true
}

func finish(rows []map[string]any, opts ReadOptions) []map[string]any {
	if len(opts.Filters) > 0 {
		kept := rows[:0]
		for _, r := range rows {
			if MatchAll(r, opts.Filters) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if len(opts.Columns) > 0 {
		for i, r := range rows {
			proj := make(map[string]any, len(opts.Columns))
			for _, c := range opts.Columns {
				proj[c] = r[c]
			}
			rows[i] = proj
		}
	}
	return rows
}
