package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// InferFromData infers a canonical schema from one record laid out by
// column: a list value holds that column's values, so its elements decide
// the type. Nested maps become struct fields. Fields are sorted by name.
func InferFromData(data map[string]any) (*Schema, error) {
	fields, err := inferFields([]map[string]any{data}, false)
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: fields}, nil
}

// InferFromRows infers a canonical schema from a set of rows. For each
// column the first non-null value across the rows decides its type; a list
// in a cell makes the column repeated. Column order follows first
// appearance, with each row's keys sorted.
func InferFromRows(rows []map[string]any) (*Schema, error) {
	fields, err := inferFields(rows, true)
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: fields}, nil
}

func inferFields(rows []map[string]any, cellLists bool) ([]Field, error) {
	var order []string
	seen := map[string]bool{}
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	fields := make([]Field, 0, len(order))
	for _, name := range order {
		f, err := inferColumn(name, rows, cellLists)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func inferColumn(name string, rows []map[string]any, cellLists bool) (Field, error) {
	var nested []map[string]any
	repeated := false
	for _, row := range rows {
		v := deref(row[name])
		if v == nil {
			continue
		}
		values := []any{v}
		if items, ok := listItems(v); ok {
			values, repeated = items, cellLists
		}
		for _, el := range values {
			el = deref(el)
			if m, ok := asMap(el); ok {
				nested = append(nested, m)
				continue
			}
			if _, ok := listItems(el); ok {
				return Field{}, fmt.Errorf("%w: nested lists", ErrUnsupportedType)
			}
			typ, err := inferValue(el)
			if err != nil {
				return Field{}, err
			}
			if typ != "" {
				return Field{Name: name, Type: typ, Repeated: repeated}, nil
			}
		}
	}
	if len(nested) > 0 {
		fields, err := inferFields(nested, cellLists)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: name, Type: TypeStruct, Repeated: repeated, Fields: fields}, nil
	}
	if repeated {
		return Field{Name: name, Type: TypeArray}, nil
	}
	return Field{Name: name, Type: TypeNull}, nil
}

// deref follows pointers, returning nil for a nil pointer.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// listItems returns the elements of a slice or array value. []byte is a
// scalar.
func listItems(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type() == bytesType {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap returns string-keyed maps of any value type as map[string]any.
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// inferValue returns the canonical type of a scalar, or "" for nil. Named
// types fall back to their underlying kind.
func inferValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		return TypeBool, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt, nil
	case float32, float64:
		return TypeFloat, nil
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInt, nil
		}
		return TypeFloat, nil
	case string:
		return TypeStr, nil
	case []byte:
		return TypeBytes, nil
	case time.Time:
		return TypeDatetime, nil
	case civil.Date:
		return TypeDate, nil
	case civil.Time:
		return TypeTime, nil
	case civil.DateTime:
		return TypeDatetime, nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool:
		return TypeBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	case reflect.String:
		return TypeStr, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}
