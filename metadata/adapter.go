package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Infer converts an untyped scalar (typically decoded JSON) into a Value.
//
// Numbers with an integral value in int32 range become Int, all other numbers
// Float. Strings that parse as RFC3339 become DateTime, everything else
// String.
func Infer(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("null is not a valid metadata value")
	case bool:
		return Bool(v), nil
	case string:
		return InferString(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
			return Int(int32(i)), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return Float(float32(f)), nil
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int(int32(v)), nil
		}
		return Float(float32(v)), nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int(int32(v)), nil
		}
		return Float(float32(v)), nil
	case int32:
		return Int(v), nil
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int(int32(v)), nil
		}
		return Float(float32(v)), nil
	case float32:
		return Float(v), nil
	case time.Time:
		return DateTime(v), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", raw)
	}
}

// InferString converts a raw string into the best-fitting Value: Bool for
// true/false, DateTime for RFC3339 instants, String otherwise.
//
// Note: bare "1"/"0" stay String here; the importer applies the looser
// text-column coercion itself because it knows the source column type.
func InferString(s string) Value {
	switch s {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateTime(t)
	}
	return String(s)
}

// FromStringMap converts key=value string input (CLI -m pairs) into a
// Document using InferString per value.
func FromStringMap(m map[string]string) Document {
	if len(m) == 0 {
		return nil
	}
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = InferString(v)
	}
	return doc
}

// FromAnyMap converts an untyped map (decoded JSON) into a Document.
func FromAnyMap(m map[string]any) (Document, error) {
	if len(m) == 0 {
		return nil, nil
	}
	doc := make(Document, len(m))
	for k, raw := range m {
		v, err := Infer(raw)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

// ParseBoolToken reports whether s is one of the four tokens the import
// pipeline treats as boolean in text columns, and its value.
func ParseBoolToken(s string) (bool, bool) {
	switch s {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

// CoerceFloat converts a scalar source value to float32 for vector columns.
func CoerceFloat(raw any) (float32, bool) {
	switch v := raw.(type) {
	case float64:
		return float32(v), true
	case float32:
		return v, true
	case int64:
		return float32(v), true
	case int:
		return float32(v), true
	case []byte:
		f, err := strconv.ParseFloat(string(v), 32)
		if err != nil {
			return 0, false
		}
		return float32(f), true
	case string:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return 0, false
		}
		return float32(f), true
	default:
		return 0, false
	}
}
