package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCanonical(t *testing.T) {
	tests := []struct {
		canon string
		vocab Vocabulary
		want  string
	}{
		{TypeInt, BigQuery, "INTEGER"},
		{TypeFloat, BigQuery, "FLOAT"},
		{TypeNull, BigQuery, "BOOLEAN"},
		{TypeStruct, BigQuery, "STRUCT"},
		{TypeInt, Pandas, "Int64"},
		{TypeDate, Pandas, "datetime64[ns]"},
		{TypeNull, Pandas, "object"},
		{TypeFloat, PyArrow, "double"},
		{TypeDate, PyArrow, "date32"},
		{TypeBytes, PyArrow, "binary"},
		{TypeTimestamp, Python, "datetime"},
		{TypeArray, Python, "list"},
		{TypeStruct, Python, "dict"},
		{TypeNull, Python, "NoneType"},
		{TypeTime, Str, "time"},
	}

	for _, tt := range tests {
		t.Run(string(tt.vocab)+"/"+tt.canon, func(t *testing.T) {
			got, err := FromCanonical(tt.canon, tt.vocab)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCanonical_ManyToOneResolvesToLast(t *testing.T) {
	tests := []struct {
		typ   string
		vocab Vocabulary
		want  string
	}{
		{"BOOLEAN", BigQuery, TypeBool},
		{"datetime64[ns]", Pandas, TypeDatetime},
		{"timestamp[ns]", PyArrow, TypeDatetime},
		{"datetime", Python, TypeDatetime},
		{"INT64", BigQuery, TypeInt},
		{"RECORD", BigQuery, TypeStruct},
		{"null", PyArrow, TypeNull},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := ToCanonical(tt.typ, tt.vocab)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCanonical_Errors(t *testing.T) {
	_, err := ToCanonical("VARCHAR", BigQuery)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ToCanonical("int", Vocabulary("spark"))
	assert.ErrorIs(t, err, ErrUnsupportedVocabulary)
}

func TestEquivalentType_RoundTripsOneToOneEntries(t *testing.T) {
	// Every canonical type that is the unique spelling in a vocabulary must
	// survive str -> vocab -> str.
	for _, vocab := range Vocabularies() {
		table, err := Table(vocab)
		require.NoError(t, err)

		counts := map[string]int{}
		for _, name := range table {
			counts[name]++
		}
		for canon, name := range table {
			if counts[name] > 1 {
				continue
			}
			back, err := EquivalentType(name, vocab, Str)
			require.NoError(t, err)
			assert.Equal(t, canon, back, "%s: %s", vocab, name)
		}
	}
}

func TestDetectVocabulary(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    Vocabulary
		wantErr bool
	}{
		{name: "str", values: []string{"int", "str", "float"}, want: Str},
		{name: "bigquery", values: []string{"INTEGER", "STRING"}, want: BigQuery},
		{name: "bigquery aliases", values: []string{"INT64", "BOOL"}, want: BigQuery},
		{name: "pandas", values: []string{"Int64", "Float64", "boolean"}, want: Pandas},
		{name: "pyarrow", values: []string{"int64", "double", "date32"}, want: PyArrow},
		{name: "ambiguous full match", values: []string{"string"}, wantErr: true},
		{name: "no match", values: []string{"varchar", "number"}, wantErr: true},
		{name: "partial match", values: []string{"INTEGER", "nope"}, wantErr: true},
		{name: "empty", values: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVocabulary(tt.values)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoMatchingVocabulary)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDtypeToStr(t *testing.T) {
	tests := map[string]string{
		"Int64":          "int",
		"int64":          "int",
		"float64":        "float",
		"Float64":        "float",
		"string":         "str",
		"object":         "str",
		"boolean":        "bool",
		"datetime64[ns]": "datetime",
		"category":       "category",
	}
	for in, want := range tests {
		assert.Equal(t, want, DtypeToStr(in), in)
	}
}

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary("pyarrow")
	require.NoError(t, err)
	assert.Equal(t, PyArrow, v)

	_, err = ParseVocabulary("polars")
	assert.ErrorIs(t, err, ErrUnsupportedVocabulary)
}
