package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Field is one column. Nested columns carry Fields and have Type TypeStruct.
// A Repeated field holds a list of Type, or a list of records when nested.
type Field struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Repeated bool    `json:"repeated,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// IsNested reports whether the field is a struct with sub-fields.
func (f Field) IsNested() bool {
	return len(f.Fields) > 0
}

// Schema is an ordered list of fields in the canonical vocabulary.
type Schema struct {
	Fields []Field
}

// New converts fields written in vocabulary v into a canonical Schema.
// An empty vocabulary is detected from the leaf type names.
func New(fields []Field, v Vocabulary) (*Schema, error) {
	if v == "" {
		detected, err := DetectVocabulary(leafTypes(fields))
		if err != nil {
			return nil, err
		}
		v = detected
	}
	canon, err := convertFields(fields, func(typ string) (string, error) {
		return ToCanonical(typ, v)
	})
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: canon}, nil
}

// FromMap builds a Schema from a name→type map. Values are type names or
// nested maps of the same shape; a one-element []any wrapping either marks
// a repeated field. Go maps are unordered, so fields are sorted by name;
// use New when column order matters.
func FromMap(m map[string]any, v Vocabulary) (*Schema, error) {
	fields, err := mapToFields(m)
	if err != nil {
		return nil, err
	}
	return New(fields, v)
}

func mapToFields(m map[string]any) ([]Field, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(m))
	for _, name := range names {
		f, err := mapField(name, m[name])
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func mapField(name string, val any) (Field, error) {
	switch v := val.(type) {
	case string:
		return Field{Name: name, Type: v}, nil
	case map[string]any:
		nested, err := mapToFields(v)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: name, Fields: nested}, nil
	case map[string]string:
		nm := make(map[string]any, len(v))
		for k, t := range v {
			nm[k] = t
		}
		return mapField(name, nm)
	case []any:
		if len(v) != 1 {
			return Field{}, fmt.Errorf("%w: field %q: a repeated type wraps exactly one element, got %d", ErrUnsupportedType, name, len(v))
		}
		f, err := mapField(name, v[0])
		if err != nil {
			return Field{}, err
		}
		if f.Repeated {
			return Field{}, fmt.Errorf("%w: field %q: nested lists", ErrUnsupportedType, name)
		}
		f.Repeated = true
		return f, nil
	}
	return Field{}, fmt.Errorf("%w: field %q has value of type %T", ErrUnsupportedType, name, val)
}

func leafTypes(fields []Field) []string {
	var out []string
	for _, f := range fields {
		if f.IsNested() {
			out = append(out, leafTypes(f.Fields)...)
			continue
		}
		out = append(out, f.Type)
	}
	return out
}

// convertFields maps every leaf type through conv. Nested fields keep their
// structure and are typed as struct in the target vocabulary by the caller.
func convertFields(fields []Field, conv func(string) (string, error)) ([]Field, error) {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.IsNested() {
			nested, err := convertFields(f.Fields, conv)
			if err != nil {
				return nil, err
			}
			out = append(out, Field{Name: f.Name, Type: TypeStruct, Repeated: f.Repeated, Fields: nested})
			continue
		}
		t, err := conv(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, Field{Name: f.Name, Type: t, Repeated: f.Repeated})
	}
	return out, nil
}

// To returns the fields spelled in vocabulary v. Nested fields carry the
// target's struct spelling as Type.
func (s *Schema) To(v Vocabulary) ([]Field, error) {
	structName, err := FromCanonical(TypeStruct, v)
	if err != nil {
		return nil, err
	}
	return toVocab(s.Fields, v, structName)
}

func toVocab(fields []Field, v Vocabulary, structName string) ([]Field, error) {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.IsNested() {
			nested, err := toVocab(f.Fields, v, structName)
			if err != nil {
				return nil, err
			}
			out = append(out, Field{Name: f.Name, Type: structName, Repeated: f.Repeated, Fields: nested})
			continue
		}
		t, err := FromCanonical(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, Field{Name: f.Name, Type: t, Repeated: f.Repeated})
	}
	return out, nil
}

// ToMap returns the schema as a name→type map in vocabulary v, with nested
// maps for struct fields. Repeated fields are wrapped in a one-element []any.
func (s *Schema) ToMap(v Vocabulary) (map[string]any, error) {
	fields, err := s.To(v)
	if err != nil {
		return nil, err
	}
	return fieldsToMap(fields), nil
}

func fieldsToMap(fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		var v any = f.Type
		if f.IsNested() {
			v = fieldsToMap(f.Fields)
		}
		if f.Repeated {
			v = []any{v}
		}
		out[f.Name] = v
	}
	return out
}

// Str returns the canonical name→type map.
func (s *Schema) Str() map[string]any {
	return fieldsToMap(s.Fields)
}

// Python returns the schema spelled with Python type names.
func (s *Schema) Python() (map[string]any, error) { return s.ToMap(Python) }

// Pandas returns the schema spelled with pandas dtypes.
func (s *Schema) Pandas() (map[string]any, error) { return s.ToMap(Pandas) }

// PyArrow returns the schema spelled with Arrow type names.
func (s *Schema) PyArrow() (map[string]any, error) { return s.ToMap(PyArrow) }

// Names returns the top-level column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a top-level field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// String renders the canonical schema, e.g. "Schema(a:int, b:{c:str}, t:[str])".
func (s *Schema) String() string {
	return "Schema(" + renderFields(s.Fields) + ")"
}

func renderFields(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		typ := f.Type
		if f.IsNested() {
			typ = "{" + renderFields(f.Fields) + "}"
		}
		if f.Repeated {
			typ = "[" + typ + "]"
		}
		parts = append(parts, f.Name+":"+typ)
	}
	return strings.Join(parts, ", ")
}

// Equivalent converts a name→type map from one vocabulary to another.
func Equivalent(m map[string]any, from, to Vocabulary) (map[string]any, error) {
	s, err := FromMap(m, from)
	if err != nil {
		return nil, err
	}
	return s.ToMap(to)
}
