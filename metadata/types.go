package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindInt represents a 32-bit integer value.
	KindInt
	// KindFloat represents a 32-bit float value.
	KindFloat
	// KindBool represents a boolean value.
	KindBool
	// KindDateTime represents an instant, externally RFC3339-encoded.
	KindDateTime
	// KindString represents a string value.
	KindString
)

// String returns the stable name of the kind, as exposed by Info responses.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindDateTime:
		return "DateTime"
	case KindString:
		return "String"
	default:
		return fmt.Sprintf("Invalid(%d)", uint8(k))
	}
}

// Value is a small typed value attached to a vector record.
//
// The representation avoids interface boxing so records stay cheap to copy
// and the binary codec stays allocation-light.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind
	I32  int32
	F32  float32
	B    bool
	T    time.Time
	S    string
}

// Int returns an integer Value.
func Int(v int32) Value { return Value{Kind: KindInt, I32: v} }

// Float returns a float Value.
func Float(v float32) Value { return Value{Kind: KindFloat, F32: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// DateTime returns an instant Value. The instant is stored in UTC.
func DateTime(t time.Time) Value { return Value{Kind: KindDateTime, T: t.UTC()} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// AsInt returns the int32 value if Kind is KindInt.
func (v Value) AsInt() (int32, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.I32, true
}

// AsFloat returns the float32 value if Kind is KindFloat.
func (v Value) AsFloat() (float32, bool) {
	if v.Kind != KindFloat {
		return 0, false
	}
	return v.F32, true
}

// AsBool returns the boolean value if Kind is KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsDateTime returns the instant if Kind is KindDateTime.
func (v Value) AsDateTime() (time.Time, bool) {
	if v.Kind != KindDateTime {
		return time.Time{}, false
	}
	return v.T, true
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// Equal reports whether two Values have the same kind and payload.
// DateTime values compare by instant, not by wall-clock representation.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.I32 == o.I32
	case KindFloat:
		return v.F32 == o.F32
	case KindBool:
		return v.B == o.B
	case KindDateTime:
		return v.T.Equal(o.T)
	case KindString:
		return v.S == o.S
	default:
		return true
	}
}

// GoString renders the value for CLI output.
func (v Value) GoString() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.I32)
	case KindFloat:
		return fmt.Sprintf("%g", v.F32)
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindDateTime:
		return v.T.Format(time.RFC3339Nano)
	case KindString:
		return v.S
	default:
		return "<invalid>"
	}
}

// MarshalJSON renders the value as its natural JSON scalar:
// number, bool, RFC3339 string, or string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.I32)
	case KindFloat:
		return json.Marshal(v.F32)
	case KindBool:
		return json.Marshal(v.B)
	case KindDateTime:
		return json.Marshal(v.T.Format(time.RFC3339Nano))
	case KindString:
		return json.Marshal(v.S)
	default:
		return nil, fmt.Errorf("cannot marshal metadata value of kind %s", v.Kind)
	}
}

// UnmarshalJSON infers the kind from the JSON scalar type: integral numbers
// become Int, other numbers Float, bools Bool, RFC3339 strings DateTime and
// any other string String.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&raw); err != nil {
		return err
	}
	inferred, err := Infer(raw)
	if err != nil {
		return err
	}
	*v = inferred
	return nil
}

// Document is a typed metadata document keyed by metadata key.
type Document map[string]Value

// Clone creates a copy of the document. Values carry no shared state, so a
// shallow map copy is a full copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// CloneIfNeeded clones only non-empty documents, returning nil otherwise.
// Avoids allocation for the common empty-metadata case.
func CloneIfNeeded(d Document) Document {
	if len(d) == 0 {
		return nil
	}
	return d.Clone()
}

// Metadata is the default metadata document type used by vectra.
type Metadata = Document
