package bigquery

import (
	"fmt"
	"reflect"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Operators accepted by SQLBuilder.Where.
var allowedOperators = map[string]bool{
	"=": true, ">": true, "<": true, ">=": true, "<=": true, "IN": true, "LIKE": true,
}

// Condition is one WHERE clause.
type Condition struct {
	Column string
	Op     string
	Value  any
}

// SQLBuilder assembles a parameterised SELECT. Values never enter the SQL
// text; they travel as named query parameters.
type SQLBuilder struct {
	columns []string
	table   string
	conds   []Condition
	limit   int
	err     error
}

// NewSQLBuilder returns an empty builder.
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

// Select sets the projected columns. None means "*".
func (b *SQLBuilder) Select(cols ...string) *SQLBuilder {
	for _, c := range cols {
		if err := checkIdentifier(c); err != nil {
			b.setErr(err)
		}
	}
	b.columns = append(b.columns[:0], cols...)
	return b
}

// From sets the table, given as "project.dataset.table".
func (b *SQLBuilder) From(table string) *SQLBuilder {
	if err := checkIdentifier(table); err != nil {
		b.setErr(err)
	}
	b.table = strings.Trim(table, "`")
	return b
}

// Where adds a condition.
func (b *SQLBuilder) Where(col, op string, value any) *SQLBuilder {
	op = strings.ToUpper(strings.TrimSpace(op))
	switch {
	case !allowedOperators[op]:
		b.setErr(fmt.Errorf("%w: operator %q is not allowed", gcp.ErrInvalidArgument, op))
	case checkIdentifier(col) != nil:
		b.setErr(checkIdentifier(col))
	case checkValue(value) != nil:
		b.setErr(checkValue(value))
	}
	b.conds = append(b.conds, Condition{Column: col, Op: op, Value: value})
	return b
}

// Limit caps the row count. Zero or less means no limit.
func (b *SQLBuilder) Limit(n int) *SQLBuilder {
	b.limit = n
	return b
}

func (b *SQLBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the SQL text and its parameters.
func (b *SQLBuilder) Build() (string, []bigquery.QueryParameter, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.table == "" {
		return "", nil, fmt.Errorf("%w: no table selected", gcp.ErrInvalidArgument)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = "`" + strings.Trim(c, "`") + "`"
		}
		sb.WriteString(strings.Join(quoted, ", "))
	}
	sb.WriteString(" FROM `" + b.table + "`")

	var params []bigquery.QueryParameter
	if len(b.conds) > 0 {
		clauses := make([]string, 0, len(b.conds))
		for i, c := range b.conds {
			name := fmt.Sprintf("param_%d", i)
			if list, ok := asList(c.Value); ok && c.Op == "IN" {
				placeholders := make([]string, len(list))
				for j, v := range list {
					pn := fmt.Sprintf("%s_%d", name, j)
					placeholders[j] = "@" + pn
					params = append(params, bigquery.QueryParameter{Name: pn, Value: v})
				}
				clauses = append(clauses, fmt.Sprintf("`%s` IN (%s)", c.Column, strings.Join(placeholders, ", ")))
				continue
			}
			clauses = append(clauses, fmt.Sprintf("`%s` %s @%s", c.Column, c.Op, name))
			params = append(params, bigquery.QueryParameter{Name: name, Value: c.Value})
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), params, nil
}

func checkIdentifier(s string) error {
	if s == "" || strings.Contains(strings.Trim(s, "`"), "`") || strings.Contains(s, "--") || strings.ContainsAny(s, ";\n") {
		return fmt.Errorf("%w: illegal identifier %q", gcp.ErrInvalidArgument, s)
	}
	return nil
}

func checkValue(v any) error {
	if list, ok := asList(v); ok {
		for _, el := range list {
			if err := checkValue(el); err != nil {
				return err
			}
		}
		return nil
	}
	if s, ok := v.(string); ok && (strings.Contains(s, "`") || strings.Contains(s, "--")) {
		return fmt.Errorf("%w: illegal characters in value %q", gcp.ErrInvalidArgument, s)
	}
	return nil
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
