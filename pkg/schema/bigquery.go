package schema

import (
	"fmt"

	"cloud.google.com/go/bigquery"
)

// BigQuery converts the schema to BigQuery field schemas.
//
// Nested fields become RECORD and Repeated fields become REPEATED columns.
// A bare array has no element type, so it becomes REPEATED STRING. null
// maps to BOOLEAN.
func (s *Schema) BigQuery() (bigquery.Schema, error) {
	return toBigQuery(s.Fields)
}

func toBigQuery(fields []Field) (bigquery.Schema, error) {
	out := make(bigquery.Schema, 0, len(fields))
	for _, f := range fields {
		fs := &bigquery.FieldSchema{Name: f.Name, Repeated: f.Repeated}
		switch {
		case f.IsNested():
			nested, err := toBigQuery(f.Fields)
			if err != nil {
				return nil, err
			}
			fs.Type, fs.Schema = bigquery.RecordFieldType, nested
		case f.Type == TypeArray:
			fs.Type, fs.Repeated = bigquery.StringFieldType, true
		case f.Type == TypeStruct:
			fs.Type = bigquery.RecordFieldType
		default:
			name, err := FromCanonical(f.Type, BigQuery)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			fs.Type = bigquery.FieldType(name)
		}
		out = append(out, fs)
	}
	return out, nil
}

// FromBigQuery reads a BigQuery schema. RECORD fields become nested fields
// and REPEATED columns keep their element type, so a schema converted back
// with BigQuery has the same types and modes.
func FromBigQuery(bs bigquery.Schema) (*Schema, error) {
	fields, err := fromBigQuery(bs)
	if err != nil {
		return nil, err
	}
	return &Schema{Fields: fields}, nil
}

func fromBigQuery(bs bigquery.Schema) ([]Field, error) {
	out := make([]Field, 0, len(bs))
	for _, fs := range bs {
		if fs == nil {
			continue
		}
		if len(fs.Schema) > 0 {
			nested, err := fromBigQuery(fs.Schema)
			if err != nil {
				return nil, err
			}
			out = append(out, Field{Name: fs.Name, Type: TypeStruct, Repeated: fs.Repeated, Fields: nested})
			continue
		}
		canon, err := ToCanonical(string(fs.Type), BigQuery)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fs.Name, err)
		}
		out = append(out, Field{Name: fs.Name, Type: canon, Repeated: fs.Repeated})
	}
	return out, nil
}
