package types

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ToBytes encodes a literal with the single-value binary serialization used
// for column bounds and partition summaries: little-endian fixed width for
// numbers, UTF-8 for strings, 16 big-endian bytes for UUIDs.
func ToBytes(l Literal) []byte {
	switch v := l.val.(type) {
	case bool:
		if v {
			return []byte{1}
		}
		return []byte{0}
	case int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(v))
	case int64:
		return binary.LittleEndian.AppendUint64(nil, uint64(v))
	case float32:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
	case float64:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
	case string:
		return []byte(v)
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out
	case uuid.UUID:
		out := make([]byte, 16)
		copy(out, v[:])
		return out
	}
	return nil
}

// FromBytes decodes a single-value binary serialization produced by
// ToBytes. An int column promoted to long may still carry 4-byte bounds in
// older files, so Long accepts both widths; likewise Double accepts 4-byte
// floats.
func FromBytes(t Type, b []byte) (Literal, error) {
	if b == nil {
		return Null, nil
	}
	wrongLen := func() (Literal, error) {
		return Null, fmt.Errorf("invalid %d-byte encoding for %s", len(b), t)
	}
	switch t {
	case Boolean:
		if len(b) != 1 {
			return wrongLen()
		}
		return BoolLiteral(b[0] != 0), nil
	case Int, Date:
		if len(b) != 4 {
			return wrongLen()
		}
		return Literal{t, int32(binary.LittleEndian.Uint32(b))}, nil
	case Long, Time, Timestamp, TimestampTz:
		switch len(b) {
		case 8:
			return Literal{t, int64(binary.LittleEndian.Uint64(b))}, nil
		case 4:
			return Literal{t, int64(int32(binary.LittleEndian.Uint32(b)))}, nil
		}
		return wrongLen()
	case Float:
		if len(b) != 4 {
			return wrongLen()
		}
		return FloatLiteral(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case Double:
		switch len(b) {
		case 8:
			return DoubleLiteral(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
		case 4:
			return DoubleLiteral(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
		}
		return wrongLen()
	case String:
		return StringLiteral(string(b)), nil
	case Binary:
		out := make([]byte, len(b))
		copy(out, b)
		return BinaryLiteral(out), nil
	case UUID:
		u, err := uuid.FromBytes(b)
		if err != nil {
			return wrongLen()
		}
		return UUIDLiteral(u), nil
	}
	return Null, fmt.Errorf("unsupported type %q", t)
}
