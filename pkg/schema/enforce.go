package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Cast converts one value. Casts receive non-nil values only.
type Cast func(any) (any, error)

// ErrCast is returned when no cast in a list succeeds.
var ErrCast = errors.New("cannot enforce schema")

// CastFor returns the built-in cast for a dtype spelling. Spellings are
// resolved with DtypeToStr, so "Int64", "int64" and "int" are equivalent.
func CastFor(dtype string) (Cast, error) {
	switch DtypeToStr(dtype) {
	case TypeInt:
		return toInt, nil
	case TypeFloat:
		return toFloat, nil
	case TypeStr:
		return toStr, nil
	case TypeBool:
		return toBool, nil
	case TypeDatetime, TypeTimestamp:
		return toTime, nil
	}
	return nil, fmt.Errorf("%w: no cast for %q", ErrUnsupportedType, dtype)
}

// MustCasts resolves dtype spellings to casts, panicking on unknown names.
// It is meant for static schemas declared at package level.
func MustCasts(dtypes ...string) []Cast {
	out := make([]Cast, 0, len(dtypes))
	for _, d := range dtypes {
		c, err := CastFor(d)
		if err != nil {
			panic(err)
		}
		out = append(out, c)
	}
	return out
}

// MapValues returns a cast that replaces values found in m and passes the
// rest through.
func MapValues(m map[any]any) Cast {
	return func(v any) (any, error) {
		if r, ok := m[v]; ok {
			return r, nil
		}
		return v, nil
	}
}

// Enforce applies casts column by column to a copy of record.
//
// Each column's casts are tried in order and the first success wins.
// Columns named in casts but missing from the record are added as nil, and
// nil values pass through every cast. With gcp.ErrorsRaise the first column
// that cannot be cast fails the call; with gcp.ErrorsIgnore it is left as is.
func Enforce(record map[string]any, casts map[string][]Cast, mode gcp.ErrorMode) (map[string]any, error) {
	out := make(map[string]any, len(record)+len(casts))
	for k, v := range record {
		out[k] = v
	}
	for col, list := range casts {
		v, ok := out[col]
		if !ok || v == nil {
			out[col] = nil
			continue
		}
		cast, err := applyCasts(v, list)
		if err != nil {
			if mode == gcp.ErrorsIgnore {
				continue
			}
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = cast
	}
	return out, nil
}

// EnforceRows applies Enforce to every row.
func EnforceRows(rows []map[string]any, casts map[string][]Cast, mode gcp.ErrorMode) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		r, err := Enforce(row, casts, mode)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func applyCasts(v any, list []Cast) (any, error) {
	if len(list) == 0 {
		return v, nil
	}
	var errs []error
	for _, c := range list {
		r, err := c(v)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w %v: %w", ErrCast, v, errors.Join(errs...))
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		return floatToInt(x)
	case float32:
		return floatToInt(float64(x))
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return floatToInt(f)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return nil, fmt.Errorf("cannot cast %T to int", v)
}

// floatToInt truncates toward zero. 2^63 itself is out of range.
func floatToInt(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%v has no int value", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	if i, err := toInt(v); err == nil {
		return float64(i.(int64)), nil
	}
	return nil, fmt.Errorf("cannot cast %T to float", v)
}

func toStr(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	if f, err := toFloat(v); err == nil {
		return f.(float64) != 0, nil
	}
	return nil, fmt.Errorf("cannot cast %T to bool", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as datetime", x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case int:
		return time.Unix(int64(x), 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	return nil, fmt.Errorf("cannot cast %T to datetime", v)
}
