package metadata

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// MarshalBinary implements encoding.BinaryMarshaler.
//
// Layout: uvarint entry count, then per entry a uvarint-framed key followed
// by a kind byte and the kind-specific payload. Every payload is either
// fixed-size or uvarint-framed, so readers can skip entries with unknown
// keys without understanding them.
func (d Document) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+len(d)*16)
	buf = binary.AppendUvarint(buf, uint64(len(d)))

	for k, v := range d {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)

		var err error
		buf, err = appendValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Document) UnmarshalBinary(data []byte) error {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return errors.New("invalid metadata length")
	}
	data = data[n:]

	if *d == nil {
		*d = make(Document, count)
	}

	for range count {
		kLen, n := binary.Uvarint(data)
		if n <= 0 {
			return errors.New("invalid key length")
		}
		data = data[n:]
		if uint64(len(data)) < kLen {
			return errors.New("short buffer for key")
		}
		key := string(data[:kLen])
		data = data[kLen:]

		val, remaining, err := parseValue(data)
		if err != nil {
			return err
		}
		(*d)[key] = val
		data = remaining
	}
	return nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))

	switch v.Kind {
	case KindInt:
		buf = binary.AppendVarint(buf, int64(v.I32))
	case KindFloat:
		bits := math.Float32bits(v.F32)
		buf = binary.LittleEndian.AppendUint32(buf, bits)
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindDateTime:
		buf = binary.AppendVarint(buf, v.T.UnixNano())
	case KindString:
		buf = binary.AppendUvarint(buf, uint64(len(v.S)))
		buf = append(buf, v.S...)
	default:
		return nil, errors.New("unknown metadata kind")
	}
	return buf, nil
}

func parseValue(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, errors.New("short buffer for value kind")
	}
	kind := Kind(data[0])
	data = data[1:]

	var v Value
	v.Kind = kind

	switch kind {
	case KindInt:
		i, n := binary.Varint(data)
		if n <= 0 {
			return v, nil, errors.New("invalid int value")
		}
		v.I32 = int32(i)
		data = data[n:]
	case KindFloat:
		if len(data) < 4 {
			return v, nil, errors.New("short buffer for float")
		}
		v.F32 = math.Float32frombits(binary.LittleEndian.Uint32(data))
		data = data[4:]
	case KindBool:
		if len(data) == 0 {
			return v, nil, errors.New("short buffer for bool")
		}
		v.B = data[0] != 0
		data = data[1:]
	case KindDateTime:
		ns, n := binary.Varint(data)
		if n <= 0 {
			return v, nil, errors.New("invalid datetime value")
		}
		v.T = time.Unix(0, ns).UTC()
		data = data[n:]
	case KindString:
		sLen, n := binary.Uvarint(data)
		if n <= 0 {
			return v, nil, errors.New("invalid string length")
		}
		data = data[n:]
		if uint64(len(data)) < sLen {
			return v, nil, errors.New("short buffer for string")
		}
		v.S = string(data[:sLen])
		data = data[sLen:]
	default:
		return v, nil, errors.New("unknown metadata kind")
	}
	return v, data, nil
}
