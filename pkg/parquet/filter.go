package parquet

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Filter is one row predicate: Column Op Values.
type Filter struct {
	Column string
	Op     string
	Values []any
}

// Supported filter operators.
const (
	OpEq    = "="
	OpEqEq  = "=="
	OpNe    = "!="
	OpLt    = "<"
	OpLe    = "<="
	OpGt    = ">"
	OpGe    = ">="
	OpIn    = "in"
	OpNotIn = "not in"
)

// GenerateFilters builds one "in" filter per map entry. Scalars become a
// one-item list. Filters are ordered by column name.
func GenerateFilters(m map[string]any) []Filter {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	out := make([]Filter, 0, len(m))
	for _, c := range cols {
		out = append(out, Filter{Column: c, Op: OpIn, Values: toList(m[c])})
	}
	return out
}

func toList(v any) []any {
	if v == nil {
		return []any{nil}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array || rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Validate checks the operator and value count.
func (f Filter) Validate() error {
	switch strings.ToLower(f.Op) {
	case OpIn, OpNotIn:
		return nil
	case OpEq, OpEqEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if len(f.Values) != 1 {
			return fmt.Errorf("filter %s %s: want one value, got %d", f.Column, f.Op, len(f.Values))
		}
		return nil
	}
	return fmt.Errorf("filter %s: unsupported operator %q", f.Column, f.Op)
}

// Match reports whether row satisfies the filter. A missing column reads
// as nil; nil only compares equal to nil. Unknown operators never match.
func (f Filter) Match(row map[string]any) bool {
	v := row[f.Column]
	switch strings.ToLower(f.Op) {
	case OpIn:
		return contains(f.Values, v)
	case OpNotIn:
		return !contains(f.Values, v)
	}
	if len(f.Values) != 1 {
		return false
	}
	want := f.Values[0]
	switch f.Op {
	case OpEq, OpEqEq:
		return equal(v, want)
	case OpNe:
		return !equal(v, want)
	}
	c, ok := compare(v, want)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// MatchAll reports whether row satisfies every filter.
func MatchAll(row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}
	return true
}

func contains(list []any, v any) bool {
	for _, el := range list {
		if equal(v, el) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compare(a, b)
	if ok {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders numbers numerically, times chronologically and strings
// lexically. Mixed kinds do not compare.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(time.Time); ok {
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	if x, ok := a.(bool); ok {
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
