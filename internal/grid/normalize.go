// Package grid implements spec.md §4.7 (C7): normalizing executor result
// rows, indexing them into an axis-independent cell lookup, and building
// the row/column header hierarchies of the rendered GridSpec. Grounded
// on the teacher's bson.M result-row shape (engine/builders/mongodb) and
// its treatment of dates as SDK wrapper values passed through untouched
// until the boundary.
package grid

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NullSentinel is the canonical string standing in for a NULL dimension
// value, so that NULLs participate in sorting/limiting as a distinguished
// value instead of being silently dropped from a Set (spec.md §4.7).
const NullSentinel = "(null)"

// Row is one result row returned by the executor for a query id.
type Row = map[string]interface{}

// Normalize converts one dimension value into its canonical string form
// (spec.md §4.7 "Result normalization"). Object identity is never stable
// across rows — every date/timestamp shape collapses to one of two
// formats before it ever reaches a Set or a cellKey.
func Normalize(v interface{}) string {
	if v == nil {
		return NullSentinel
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatNumber(float64(t))
	case float64:
		return formatNumber(t)
	case time.Time:
		return formatTimestamp(t)
	case primitive.DateTime:
		return formatTimestamp(t.Time().UTC())
	case *time.Time:
		if t == nil {
			return NullSentinel
		}
		return formatTimestamp(*t)
	}
	if s, ok := extractValueField(v); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatTimestamp renders midnight UTC (or a bare date with a zero
// time-of-day) as `YYYY-MM-DD`, otherwise `YYYY-MM-DD HH:MM:SS` (spec.md
// §4.7).
func formatTimestamp(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

// extractValueField handles the generic SDK-wrapper shape: any struct (or
// pointer to struct) carrying a string field named exactly `Value` or
// `value`, the shape several executor SDKs use for a
// driver-native date/timestamp wrapper (spec.md §4.7: "SDK wrappers
// carrying a `.value` string").
func extractValueField(v interface{}) (string, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return "", false
	}
	field := rv.FieldByNameFunc(func(name string) bool {
		return len(name) > 0 && (name == "Value" || name == "value")
	})
	if !field.IsValid() || field.Kind() != reflect.String {
		return "", false
	}
	return field.String(), true
}

// NormalizeRaw extracts the numeric value of one aggregate cell, or nil
// for a NULL/absent value (spec.md §3.5 CellValue.raw).
func NormalizeRaw(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case float32:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	case int32:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	default:
		return nil
	}
}
