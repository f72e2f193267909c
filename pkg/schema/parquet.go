package schema

import (
	"encoding/json"
	"fmt"
)

// parquetTags maps canonical types to parquet-go JSON schema tag fragments.
// Temporal types are stored as UTF8 strings so rows written through the
// JSON writer need no unit conversion.
var parquetTags = map[string]string{
	TypeInt:       "type=INT64",
	TypeFloat:     "type=DOUBLE",
	TypeBool:      "type=BOOLEAN",
	TypeStr:       "type=BYTE_ARRAY, convertedtype=UTF8",
	TypeTimestamp: "type=BYTE_ARRAY, convertedtype=UTF8",
	TypeDate:      "type=BYTE_ARRAY, convertedtype=UTF8",
	TypeTime:      "type=BYTE_ARRAY, convertedtype=UTF8",
	TypeDatetime:  "type=BYTE_ARRAY, convertedtype=UTF8",
	TypeBytes:     "type=BYTE_ARRAY",
	TypeNull:      "type=BYTE_ARRAY, convertedtype=UTF8",
}

type parquetNode struct {
	Tag    string        `json:"Tag"`
	Fields []parquetNode `json:"Fields,omitempty"`
}

// Parquet renders the schema as a parquet-go JSON schema definition, suitable
// for writer.NewJSONWriter. Every column is OPTIONAL. Repeated fields and
// bare arrays become three-level LISTs with REQUIRED elements, so nil list
// elements cannot be stored.
func (s *Schema) Parquet() (string, error) {
	fields, err := parquetFields(s.Fields)
	if err != nil {
		return "", err
	}
	root := parquetNode{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}
	b, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parquetFields(fields []Field) ([]parquetNode, error) {
	out := make([]parquetNode, 0, len(fields))
	for _, f := range fields {
		if f.Repeated || f.Type == TypeArray {
			elem, err := parquetElement(f)
			if err != nil {
				return nil, err
			}
			out = append(out, parquetNode{
				Tag:    fmt.Sprintf("name=%s, type=LIST, repetitiontype=OPTIONAL", f.Name),
				Fields: []parquetNode{elem},
			})
			continue
		}
		node, err := parquetNodeFor(f, "name="+f.Name, "OPTIONAL")
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// parquetElement is the element node of a LIST column. Bare arrays carry
// no element type and store their elements as strings.
func parquetElement(f Field) (parquetNode, error) {
	if f.Type == TypeArray && !f.IsNested() {
		return parquetNode{Tag: "name=element, " + parquetTags[TypeStr] + ", repetitiontype=REQUIRED"}, nil
	}
	return parquetNodeFor(Field{Name: f.Name, Type: f.Type, Fields: f.Fields}, "name=element", "REQUIRED")
}

func parquetNodeFor(f Field, name, repetition string) (parquetNode, error) {
	if f.IsNested() {
		nested, err := parquetFields(f.Fields)
		if err != nil {
			return parquetNode{}, err
		}
		return parquetNode{
			Tag:    fmt.Sprintf("%s, repetitiontype=%s", name, repetition),
			Fields: nested,
		}, nil
	}
	tag, ok := parquetTags[f.Type]
	if !ok {
		return parquetNode{}, fmt.Errorf("field %q: %w: %q", f.Name, ErrUnsupportedType, f.Type)
	}
	return parquetNode{Tag: fmt.Sprintf("%s, %s, repetitiontype=%s", name, tag, repetition)}, nil
}
