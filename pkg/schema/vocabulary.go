// Package schema translates field-name-to-type schemas between type
// vocabularies.
//
// Every schema is held internally in the canonical "str" vocabulary. The
// other vocabularies (python, bigquery, pandas, pyarrow) are defined as
// lookup tables keyed on the canonical names, so conversion between any two
// vocabularies is origin→str→target. Nested fields are structs (RECORD in
// BigQuery) and are converted recursively.
package schema

import (
	"errors"
	"fmt"
)

// Vocabulary names a type system.
type Vocabulary string

const (
	// Str is the canonical vocabulary: int, float, str, bool, ...
	Str Vocabulary = "str"

	// Python is the native-type vocabulary, spelled with Python type names
	// for interoperability with data produced by Python tooling. In Go the
	// same vocabulary is exposed as reflect.Type values through GoTypes.
	Python Vocabulary = "python"

	// BigQuery is the BigQuery standard type vocabulary.
	BigQuery Vocabulary = "bigquery"

	// Pandas is the pandas dtype vocabulary.
	Pandas Vocabulary = "pandas"

	// PyArrow is the Arrow type vocabulary as spelled by pyarrow.
	PyArrow Vocabulary = "pyarrow"
)

// Canonical type names.
const (
	TypeInt       = "int"
	TypeFloat     = "float"
	TypeStr       = "str"
	TypeBool      = "bool"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeTime      = "time"
	TypeDatetime  = "datetime"
	TypeBytes     = "bytes"
	TypeArray     = "array"
	TypeStruct    = "struct"
	TypeNull      = "null"
)

// Errors returned by schema operations.
var (
	// ErrUnsupportedVocabulary is returned for an unknown vocabulary name.
	ErrUnsupportedVocabulary = errors.New("unsupported schema vocabulary")

	// ErrUnsupportedType is returned when a type has no equivalent.
	ErrUnsupportedType = errors.New("unsupported schema type")

	// ErrNoMatchingVocabulary is returned when detection is ambiguous or empty.
	ErrNoMatchingVocabulary = errors.New("no matching schema vocabulary")
)

// canonicalOrder fixes iteration order over the tables. Reverse lookups are
// built in this order and later entries win, so "null" comes first: BOOLEAN
// maps back to bool, datetime64[ns] to datetime, timestamp[ns] to datetime.
var canonicalOrder = []string{
	TypeNull, TypeInt, TypeFloat, TypeStr, TypeBool, TypeTimestamp,
	TypeDate, TypeTime, TypeDatetime, TypeBytes, TypeArray, TypeStruct,
}

var tables = map[Vocabulary]map[string]string{
	Str: {
		TypeInt: "int", TypeFloat: "float", TypeStr: "str", TypeBool: "bool",
		TypeTimestamp: "timestamp", TypeDate: "date", TypeTime: "time", TypeDatetime: "datetime",
		TypeBytes: "bytes", TypeArray: "array", TypeStruct: "struct", TypeNull: "null",
	},
	Python: {
		TypeInt: "int", TypeFloat: "float", TypeStr: "str", TypeBool: "bool",
		TypeTimestamp: "datetime", TypeDate: "date", TypeTime: "time", TypeDatetime: "datetime",
		TypeBytes: "bytes", TypeArray: "list", TypeStruct: "dict", TypeNull: "NoneType",
	},
	BigQuery: {
		TypeNull: "BOOLEAN", TypeInt: "INTEGER", TypeFloat: "FLOAT", TypeStr: "STRING", TypeBool: "BOOLEAN",
		TypeTimestamp: "TIMESTAMP", TypeDate: "DATE", TypeTime: "TIME", TypeDatetime: "DATETIME",
		TypeBytes: "BYTES", TypeArray: "ARRAY", TypeStruct: "STRUCT",
	},
	Pandas: {
		TypeInt: "Int64", TypeFloat: "Float64", TypeStr: "string", TypeBool: "boolean",
		TypeTimestamp: "datetime64[ns]", TypeDate: "datetime64[ns]", TypeTime: "datetime64[ns]", TypeDatetime: "datetime64[ns]",
		TypeBytes: "bytes", TypeArray: "list", TypeStruct: "struct", TypeNull: "object",
	},
	PyArrow: {
		TypeInt: "int64", TypeFloat: "double", TypeStr: "string", TypeBool: "bool",
		TypeTimestamp: "timestamp[ns]", TypeDate: "date32", TypeTime: "time64[ns]", TypeDatetime: "timestamp[ns]",
		TypeBytes: "binary", TypeArray: "list", TypeStruct: "struct", TypeNull: "null",
	},
}

// aliases are extra spellings accepted when reading a vocabulary. They never
// take part in forward conversion.
var aliases = map[Vocabulary]map[string]string{
	BigQuery: {
		"INT64": TypeInt, "FLOAT64": TypeFloat, "BOOL": TypeBool, "RECORD": TypeStruct,
		"NUMERIC": TypeFloat, "BIGNUMERIC": TypeFloat, "JSON": TypeStr, "GEOGRAPHY": TypeStr,
	},
}

var reverse = buildReverse()

func buildReverse() map[Vocabulary]map[string]string {
	out := make(map[Vocabulary]map[string]string, len(tables))
	for vocab, table := range tables {
		r := make(map[string]string, len(table))
		for _, canon := range canonicalOrder {
			if name, ok := table[canon]; ok {
				r[name] = canon
			}
		}
		for name, canon := range aliases[vocab] {
			r[name] = canon
		}
		out[vocab] = r
	}
	return out
}

// Vocabularies lists every supported vocabulary in detection order.
func Vocabularies() []Vocabulary {
	return []Vocabulary{BigQuery, Str, Python, Pandas, PyArrow}
}

// ParseVocabulary validates a vocabulary name.
func ParseVocabulary(s string) (Vocabulary, error) {
	v := Vocabulary(s)
	if _, ok := tables[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVocabulary, s)
	}
	return v, nil
}

// Table returns a copy of the canonical→vocabulary lookup table.
func Table(v Vocabulary) (map[string]string, error) {
	t, ok := tables[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVocabulary, v)
	}
	out := make(map[string]string, len(t))
	for k, val := range t {
		out[k] = val
	}
	return out, nil
}

// ToCanonical maps a type name in vocabulary v to its canonical name.
func ToCanonical(typ string, v Vocabulary) (string, error) {
	r, ok := reverse[v]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVocabulary, v)
	}
	canon, ok := r[typ]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrUnsupportedType, typ, v)
	}
	return canon, nil
}

// FromCanonical maps a canonical type name into vocabulary v.
func FromCanonical(canon string, v Vocabulary) (string, error) {
	t, ok := tables[v]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVocabulary, v)
	}
	name, ok := t[canon]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, canon)
	}
	return name, nil
}

// EquivalentType converts one type name from one vocabulary to another.
func EquivalentType(typ string, from, to Vocabulary) (string, error) {
	canon, err := ToCanonical(typ, from)
	if err != nil {
		return "", err
	}
	return FromCanonical(canon, to)
}

// DetectVocabulary guesses which vocabulary a list of type names is written in.
//
// Each vocabulary scores one point per value it contains. Detection fails
// when nothing matches, when more than one vocabulary matches every value,
// or when the best vocabulary does not match every value. The python
// vocabulary only takes part for native types (see FromGoTypes), because
// its spellings overlap the canonical ones.
func DetectVocabulary(values []string) (Vocabulary, error) {
	if len(values) == 0 {
		return "", ErrNoMatchingVocabulary
	}

	var (
		best      Vocabulary
		bestScore int
		total     int
		full      int
	)
	for _, v := range Vocabularies() {
		if v == Python {
			continue
		}
		r := reverse[v]
		score := 0
		for _, val := range values {
			if _, ok := r[val]; ok {
				score++
			}
		}
		total += score
		if score == len(values) {
			full++
		}
		if score > bestScore {
			best, bestScore = v, score
		}
	}

	switch {
	case total == 0:
		return "", fmt.Errorf("%w: no vocabulary recognises %v", ErrNoMatchingVocabulary, values)
	case full > 1:
		return "", fmt.Errorf("%w: several vocabularies match %v", ErrNoMatchingVocabulary, values)
	case bestScore != len(values):
		return "", fmt.Errorf("%w: not all of %v matched %s", ErrNoMatchingVocabulary, values, best)
	}
	return best, nil
}

// dtypeToStr maps pandas/numpy dtype spellings to canonical names.
var dtypeToStr = map[string]string{
	"int": TypeInt, "int64": TypeInt, "Int64": TypeInt,
	"float": TypeFloat, "float64": TypeFloat, "Float64": TypeFloat,
	"str": TypeStr, "string": TypeStr, "object": TypeStr,
	"bool": TypeBool, "boolean": TypeBool,
	"datetime64[ns]": TypeDatetime,
}

// DtypeToStr maps a dtype spelling to its canonical type name. Unknown
// spellings are returned unchanged.
func DtypeToStr(dtype string) string {
	if s, ok := dtypeToStr[dtype]; ok {
		return s
	}
	return dtype
}
