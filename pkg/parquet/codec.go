// Package parquet reads and writes row sets as Parquet files, either as a
// single object or as a hive-partitioned directory of objects.
//
// Rows are []map[string]any. Schemas come from pkg/schema; temporal columns
// are stored as UTF8 strings and read back as strings.
package parquet

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"cloud.google.com/go/civil"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/common"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	pqschema "github.com/xitongsys/parquet-go/schema"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/3leaps/gcpal/pkg/schema"
)

// parallelism is the goroutine count parquet-go uses per reader or writer.
const parallelism = 4

// Encode writes rows as one Snappy-compressed Parquet file. A nil schema is
// inferred from the rows.
func Encode(rows []map[string]any, sch *schema.Schema) ([]byte, error) {
	if sch == nil {
		inferred, err := schema.InferFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("parquet: infer schema: %w", err)
		}
		sch = inferred
	}
	if len(sch.Fields) == 0 {
		return nil, fmt.Errorf("parquet: no columns to write")
	}
	def, err := sch.Parquet()
	if err != nil {
		return nil, fmt.Errorf("parquet: build schema: %w", err)
	}

	var buf bytes.Buffer
	fw := writerfile.NewWriterFile(&buf)
	pw, err := writer.NewJSONWriter(def, fw, parallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet: create writer: %w", err)
	}
	pw.CompressionType = pq.CompressionCodec_SNAPPY

	for i, row := range rows {
		rec, err := json.Marshal(encodeRow(row, sch.Fields))
		if err != nil {
			return nil, fmt.Errorf("parquet: row %d: %w", i, err)
		}
		if err := pw.Write(string(rec)); err != nil {
			return nil, fmt.Errorf("parquet: row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquet: finish file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeRow shapes a row for the JSON writer: only schema columns, temporal
// values as strings, nil list elements dropped.
func encodeRow(row map[string]any, fields []schema.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := row[f.Name]
		if !ok || v == nil {
			out[f.Name] = nil
			continue
		}
		if f.Repeated || f.Type == schema.TypeArray {
			out[f.Name] = encodeList(v, f)
			continue
		}
		out[f.Name] = encodeValue(v, f)
	}
	return out
}

func encodeValue(v any, f schema.Field) any {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return encodeValue(rv.Elem().Interface(), f)
	}
	if !f.IsNested() {
		return encodeScalar(v, f.Type)
	}
	if m, ok := stringMap(v); ok {
		return encodeRow(m, f.Fields)
	}
	return nil
}

// stringMap accepts any map keyed by strings, and pointers to one.
func stringMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// encodeList writes the elements of a list column. Elements of a bare
// array are stored as strings.
func encodeList(v any, f schema.Field) []any {
	elem := f
	if f.Type == schema.TypeArray && !f.IsNested() {
		elem.Type = schema.TypeStr
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{encodeValue(v, elem)}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev := rv.Index(i)
		for ev.Kind() == reflect.Pointer || ev.Kind() == reflect.Interface {
			if ev.IsNil() {
				break
			}
			ev = ev.Elem()
		}
		if (ev.Kind() == reflect.Pointer || ev.Kind() == reflect.Interface) && ev.IsNil() {
			continue
		}
		el := ev.Interface()
		if ev := encodeValue(el, elem); ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

func encodeScalar(v any, typ string) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case civil.Date, civil.Time, civil.DateTime:
		return fmt.Sprint(x)
	case []byte:
		if typ == schema.TypeBytes {
			// The JSON writer reads BYTE_ARRAY values as raw strings.
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	}
	if typ == schema.TypeStr {
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	}
	return v
}

// Decode reads every row of a Parquet file. Integers come back as int64,
// floating-point columns as float64, lists as []any and absent values as
// nil. Rows are keyed by the column names stored in the file.
func Decode(data []byte) ([]map[string]any, error) {
	// parquet-go readers need a seekable source; spill to a temp file.
	tmp, err := os.CreateTemp("", "gcpal-*.parquet")
	if err != nil {
		return nil, fmt.Errorf("parquet: temp file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("parquet: temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("parquet: temp file: %w", err)
	}

	pf, err := local.NewLocalFileReader(name)
	if err != nil {
		return nil, fmt.Errorf("parquet: open: %w", err)
	}
	defer func() { _ = pf.Close() }()

	pr, err := reader.NewParquetReader(pf, nil, parallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet: read footer: %w", err)
	}
	defer pr.ReadStop()

	n := pr.GetNumRows()
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{}
	}
	if n == 0 {
		return rows, nil
	}

	sh := pr.SchemaHandler
	for _, path := range sh.ValueColumns {
		steps, err := columnSteps(sh, path)
		if err != nil {
			return nil, err
		}
		values, rls, dls, err := pr.ReadColumnByPath(path, n)
		if err != nil {
			return nil, fmt.Errorf("parquet: read column %s: %w", sh.InPathToExPath[path], err)
		}
		assemble(rows, steps, values, rls, dls)
	}
	return rows, nil
}

type stepKind int

const (
	stepKey     stepKind = iota // descend into a map key
	stepDefined                 // optional node: one definition level
	stepRepeat                  // repeated node: one definition level, next list element
)

type step struct {
	kind stepKind
	name string
}

// columnSteps turns the schema path of a leaf column into the steps that
// place its values in a row. LIST groups contribute their own key; their
// repeated wrapper and element nodes do not. Lists nested in lists are
// rejected.
func columnSteps(sh *pqschema.SchemaHandler, inPath string) ([]step, error) {
	segs := common.StrToPath(inPath)
	var (
		steps   []step
		repeats int
		inList  int // 1: next node is a LIST wrapper, 2: next node is its element
	)
	for i := 2; i <= len(segs); i++ {
		idx, ok := sh.MapIndex[common.PathToStr(segs[:i])]
		if !ok {
			return nil, fmt.Errorf("parquet: column %s: broken schema path", inPath)
		}
		el := sh.SchemaElements[idx]
		rt := el.GetRepetitionType()

		switch inList {
		case 1:
			inList = 2
			if rt == pq.FieldRepetitionType_REPEATED {
				steps = append(steps, step{kind: stepRepeat})
				repeats++
			}
			continue
		case 2:
			inList = 0
			switch rt {
			case pq.FieldRepetitionType_OPTIONAL:
				steps = append(steps, step{kind: stepDefined})
			case pq.FieldRepetitionType_REPEATED:
				steps = append(steps, step{kind: stepRepeat})
				repeats++
			}
			continue
		}

		steps = append(steps, step{kind: stepKey, name: sh.Infos[idx].ExName})
		switch rt {
		case pq.FieldRepetitionType_OPTIONAL:
			steps = append(steps, step{kind: stepDefined})
		case pq.FieldRepetitionType_REPEATED:
			steps = append(steps, step{kind: stepRepeat})
			repeats++
		}
		if el.ConvertedType != nil && *el.ConvertedType == pq.ConvertedType_LIST && el.GetNumChildren() == 1 {
			inList = 1
		}
	}
	if repeats > 1 {
		return nil, fmt.Errorf("parquet: column %s: nested lists are not supported", sh.InPathToExPath[inPath])
	}
	return steps, nil
}

// slot is a settable location in a row: a map entry or a list element.
type slot struct {
	get func() any
	set func(any)
}

func keySlot(m map[string]any, k string) slot {
	return slot{
		get: func() any { return m[k] },
		set: func(v any) { m[k] = v },
	}
}

func indexSlot(list slot, i int) slot {
	return slot{
		get: func() any {
			if s, _ := list.get().([]any); i < len(s) {
				return s[i]
			}
			return nil
		},
		set: func(v any) {
			s, _ := list.get().([]any)
			for len(s) <= i {
				s = append(s, nil)
			}
			s[i] = v
			list.set(s)
		},
	}
}

// mapIn returns the map held by s, creating it if s holds none.
func mapIn(s slot) map[string]any {
	if m, ok := s.get().(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	s.set(m)
	return m
}

// assemble places one column's values into rows using the repetition level
// to find row and list element boundaries and the definition level to find
// where a nil or empty list cuts the path short.
func assemble(rows []map[string]any, steps []step, values []any, rls, dls []int32) {
	r, elem := -1, -1
	for i, v := range values {
		if rls[i] == 0 {
			r, elem = r+1, -1
		}
		if r < 0 || r >= len(rows) {
			continue
		}
		row := rows[r]
		cur := slot{get: func() any { return row }, set: func(any) {}}
		var level int32
		complete := true
		for _, st := range steps {
			if st.kind == stepKey {
				cur = keySlot(mapIn(cur), st.name)
				continue
			}
			level++
			if dls[i] < level {
				if cur.get() == nil {
					if st.kind == stepRepeat {
						cur.set([]any{})
					} else {
						cur.set(nil)
					}
				}
				complete = false
				break
			}
			if st.kind == stepRepeat {
				elem++
				cur = indexSlot(cur, elem)
			}
		}
		if complete {
			cur.set(plainValue(v))
		}
	}
}

func plainValue(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
