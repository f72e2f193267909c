package schema

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

var (
	anyType      = reflect.TypeOf((*any)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	dateType     = reflect.TypeOf(civil.Date{})
	timeOfDay    = reflect.TypeOf(civil.Time{})
	dateTimeType = reflect.TypeOf(civil.DateTime{})
	bytesType    = reflect.TypeOf([]byte(nil))
	sliceType    = reflect.TypeOf([]any(nil))
	mapType      = reflect.TypeOf(map[string]any(nil))
)

// goTypes is the native vocabulary: canonical name → Go type.
var goTypes = map[string]reflect.Type{
	TypeInt:       reflect.TypeOf(int64(0)),
	TypeFloat:     reflect.TypeOf(float64(0)),
	TypeStr:       reflect.TypeOf(""),
	TypeBool:      reflect.TypeOf(false),
	TypeTimestamp: timeType,
	TypeDate:      dateType,
	TypeTime:      timeOfDay,
	TypeDatetime:  timeType,
	TypeBytes:     bytesType,
	TypeArray:     sliceType,
	TypeStruct:    mapType,
	TypeNull:      anyType,
}

// GoTypes returns the schema as Go types. Nested fields become nested maps.
// A repeated scalar is a slice type; a repeated record is its map wrapped
// in a one-element []any, as in ToMap.
func (s *Schema) GoTypes() map[string]any {
	return goTypeMap(s.Fields)
}

func goTypeMap(fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.IsNested() {
			var v any = goTypeMap(f.Fields)
			if f.Repeated {
				v = []any{v}
			}
			out[f.Name] = v
			continue
		}
		t, ok := goTypes[f.Type]
		if !ok {
			t = anyType
		}
		if f.Repeated {
			t = reflect.SliceOf(t)
		}
		out[f.Name] = t
	}
	return out
}

// canonicalForGoType maps a Go type back to a canonical name. civil.DateTime
// and time.Time both map to datetime.
func canonicalForGoType(t reflect.Type) (string, error) {
	switch t {
	case timeType, dateTimeType:
		return TypeDatetime, nil
	case dateType:
		return TypeDate, nil
	case timeOfDay:
		return TypeTime, nil
	case bytesType:
		return TypeBytes, nil
	case anyType:
		return TypeNull, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return TypeBool, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	case reflect.String:
		return TypeStr, nil
	case reflect.Slice, reflect.Array:
		return TypeArray, nil
	case reflect.Map, reflect.Struct:
		return TypeStruct, nil
	}
	return "", fmt.Errorf("%w: Go type %s", ErrUnsupportedType, t)
}

// FromGoTypes builds a Schema from a name→reflect.Type map. Nested
// map[string]any values holding reflect.Type leaves become struct fields,
// and typed slices become repeated fields. Fields are sorted by name.
func FromGoTypes(m map[string]any) (*Schema, error) {
	fields, err := goTypesToFields(m)
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: fields}, nil
}

func goTypesToFields(m map[string]any) ([]Field, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(m))
	for _, name := range names {
		switch v := m[name].(type) {
		case reflect.Type:
			f, err := goTypeField(name, v)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		case map[string]any:
			nested, err := goTypesToFields(v)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: name, Type: TypeStruct, Fields: nested})
		case []any:
			inner, ok := singleMap(v)
			if !ok {
				return nil, fmt.Errorf("%w: field %q: a repeated record wraps exactly one map", ErrUnsupportedType, name)
			}
			nested, err := goTypesToFields(inner)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: name, Type: TypeStruct, Repeated: true, Fields: nested})
		default:
			return nil, fmt.Errorf("%w: field %q holds %T, want reflect.Type", ErrUnsupportedType, name, v)
		}
	}
	return fields, nil
}

func singleMap(v []any) (map[string]any, bool) {
	if len(v) != 1 {
		return nil, false
	}
	m, ok := v[0].(map[string]any)
	return m, ok
}

// goTypeField types one Go type. Slices of a typed element, other than
// []byte, become repeated fields; slices of structs become repeated records.
func goTypeField(name string, t reflect.Type) (Field, error) {
	repeated := false
	if t != bytesType && t.Kind() == reflect.Slice && t.Elem() != anyType {
		repeated, t = true, t.Elem()
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct && !isTemporal(t) {
		nested, err := structFields(t)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: name, Type: TypeStruct, Repeated: repeated, Fields: nested}, nil
	}
	canon, err := canonicalForGoType(t)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: %w", name, err)
	}
	if repeated && (canon == TypeArray || canon == TypeStruct) {
		return Field{}, fmt.Errorf("field %q: %w: nested collection %s", name, ErrUnsupportedType, t)
	}
	return Field{Name: name, Type: canon, Repeated: repeated}, nil
}

func isTemporal(t reflect.Type) bool {
	return t == timeType || t == dateType || t == timeOfDay || t == dateTimeType
}

// FromStruct builds a Schema from the exported fields of a struct value or
// type, honouring `json` tag names.
func FromStruct(v any) (*Schema, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a struct", ErrUnsupportedType, v)
	}
	fields, err := structFields(t)
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: fields}, nil
}

func structFields(t reflect.Type) ([]Field, error) {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			tagName := tag
			for j := 0; j < len(tag); j++ {
				if tag[j] == ',' {
					tagName = tag[:j]
					break
				}
			}
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}

		ft := sf.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		f, err := goTypeField(name, ft)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
