package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Literal is a typed value. The zero Literal is null.
//
// Values use a fixed Go representation per type: bool, int32 (int, date),
// int64 (long, time, timestamp, timestamptz; micros), float32, float64,
// string, []byte (binary) and uuid.UUID.
type Literal struct {
	typ Type
	val any
}

// Null is the null literal.
var Null = Literal{}

func BoolLiteral(v bool) Literal          { return Literal{Boolean, v} }
func IntLiteral(v int32) Literal          { return Literal{Int, v} }
func LongLiteral(v int64) Literal         { return Literal{Long, v} }
func FloatLiteral(v float32) Literal      { return Literal{Float, v} }
func DoubleLiteral(v float64) Literal     { return Literal{Double, v} }
func DateLiteral(days int32) Literal      { return Literal{Date, days} }
func TimeLiteral(micros int64) Literal    { return Literal{Time, micros} }
func StringLiteral(v string) Literal      { return Literal{String, v} }
func BinaryLiteral(v []byte) Literal      { return Literal{Binary, v} }
func UUIDLiteral(v uuid.UUID) Literal     { return Literal{UUID, v} }
func TimestampLiteral(us int64) Literal   { return Literal{Timestamp, us} }
func TimestampTzLiteral(us int64) Literal { return Literal{TimestampTz, us} }

// Type returns the literal's type, or "" for null.
func (l Literal) Type() Type { return l.typ }

// Value returns the Go value.
func (l Literal) Value() any { return l.val }

// IsNull reports whether l is the null literal.
func (l Literal) IsNull() bool { return l.typ == "" }

// IsNaN reports whether l is a floating point NaN.
func (l Literal) IsNaN() bool {
	switch v := l.val.(type) {
	case float32:
		return math.IsNaN(float64(v))
	case float64:
		return math.IsNaN(v)
	}
	return false
}

// Int64 returns the value of any integer-backed literal widened to int64.
func (l Literal) Int64() (int64, bool) {
	switch v := l.val.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Float64 returns the value of any numeric literal as a float64.
func (l Literal) Float64() (float64, bool) {
	switch v := l.val.(type) {
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Equal reports whether two literals have the same type and value.
func (l Literal) Equal(o Literal) bool {
	if l.typ != o.typ {
		return false
	}
	if l.IsNull() {
		return true
	}
	return Compare(l, o) == 0
}

func (l Literal) String() string {
	switch v := l.val.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case int32:
		if l.typ == Date {
			return time.Unix(0, 0).UTC().AddDate(0, 0, int(v)).Format("2006-01-02")
		}
		return strconv.FormatInt(int64(v), 10)
	case int64:
		switch l.typ {
		case Timestamp, TimestampTz:
			return time.UnixMicro(v).UTC().Format("2006-01-02T15:04:05.999999Z07:00")
		}
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case uuid.UUID:
		return v.String()
	}
	return fmt.Sprint(l.val)
}

// Compare orders two literals of the same type. Null sorts first and NaN
// sorts after every other floating point value. Integer-backed literals of
// different widths compare numerically.
func Compare(a, b Literal) int {
	if a.IsNull() || b.IsNull() {
		switch {
		case a.IsNull() && b.IsNull():
			return 0
		case a.IsNull():
			return -1
		default:
			return 1
		}
	}
	if ai, ok := a.Int64(); ok {
		if bi, ok := b.Int64(); ok {
			return cmpOrdered(ai, bi)
		}
	}
	if a.typ.IsFloating() || b.typ.IsFloating() {
		af, aok := a.Float64()
		bf, bok := b.Float64()
		if aok && bok {
			return compareFloat(af, bf)
		}
	}
	switch av := a.val.(type) {
	case bool:
		bv, _ := b.val.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case string:
		bv, _ := b.val.(string)
		return cmpOrdered(av, bv)
	case []byte:
		bv, _ := b.val.([]byte)
		return bytes.Compare(av, bv)
	case uuid.UUID:
		bv, _ := b.val.(uuid.UUID)
		return bytes.Compare(av[:], bv[:])
	}
	return 0
}

func cmpOrdered[T int64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var epoch = time.Unix(0, 0).UTC()

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and zone-less ISO timestamps; the latter
// are read as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Coerce converts a Go value into a literal of type t. It accepts the
// canonical representation as well as the loosely typed values produced by
// JSON decoding and user input.
func Coerce(t Type, v any) (Literal, error) {
	if v == nil {
		return Null, nil
	}
	if l, ok := v.(Literal); ok {
		return l.To(t)
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}

	bad := func() (Literal, error) {
		return Null, fmt.Errorf("cannot convert %T(%v) to %s", v, v, t)
	}

	switch t {
	case Boolean:
		switch x := v.(type) {
		case bool:
			return BoolLiteral(x), nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return bad()
			}
			return BoolLiteral(b), nil
		}
	case Int, Long, Time:
		i, ok := toInt64(v)
		if !ok {
			return bad()
		}
		switch t {
		case Int:
			if i < math.MinInt32 || i > math.MaxInt32 {
				return Null, fmt.Errorf("value %d out of range for int", i)
			}
			return IntLiteral(int32(i)), nil
		case Time:
			return TimeLiteral(i), nil
		}
		return LongLiteral(i), nil
	case Float, Double:
		f, ok := toFloat64(v)
		if !ok {
			return bad()
		}
		if t == Float {
			return FloatLiteral(float32(f)), nil
		}
		return DoubleLiteral(f), nil
	case Date:
		switch x := v.(type) {
		case time.Time:
			return DateLiteral(daysSinceEpoch(x)), nil
		case string:
			if d, err := time.Parse("2006-01-02", x); err == nil {
				return DateLiteral(daysSinceEpoch(d)), nil
			}
		}
		i, ok := toInt64(v)
		if !ok {
			return bad()
		}
		return DateLiteral(int32(i)), nil
	case Timestamp, TimestampTz:
		var us int64
		switch x := v.(type) {
		case time.Time:
			us = x.UnixMicro()
		case string:
			if ts, ok := parseTimestamp(x); ok {
				us = ts.UnixMicro()
				break
			}
			i, ok := toInt64(v)
			if !ok {
				return bad()
			}
			us = i
		default:
			i, ok := toInt64(v)
			if !ok {
				return bad()
			}
			us = i
		}
		return Literal{t, us}, nil
	case String:
		if s, ok := v.(string); ok {
			return StringLiteral(s), nil
		}
	case Binary:
		switch x := v.(type) {
		case []byte:
			return BinaryLiteral(x), nil
		case string:
			return BinaryLiteral([]byte(x)), nil
		}
	case UUID:
		switch x := v.(type) {
		case uuid.UUID:
			return UUIDLiteral(x), nil
		case string:
			u, err := uuid.Parse(x)
			if err != nil {
				return bad()
			}
			return UUIDLiteral(u), nil
		case []byte:
			u, err := uuid.FromBytes(x)
			if err != nil {
				return bad()
			}
			return UUIDLiteral(u), nil
		}
	}
	return bad()
}

// To converts the literal to type t. Integer narrowing fails when the value
// does not fit.
func (l Literal) To(t Type) (Literal, error) {
	if l.IsNull() || l.typ == t {
		return l, nil
	}
	return Coerce(t, l.val)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	case float32:
		if float64(x) == math.Trunc(float64(x)) {
			return int64(x), true
		}
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func daysSinceEpoch(t time.Time) int32 {
	return int32(math.Floor(t.UTC().Sub(epoch).Hours() / 24))
}
