// Package partition implements partition transforms and specs. A spec maps
// source columns through transforms into a partition tuple that is stored
// with every data file and summarized per manifest for pruning.
package partition

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/arkilian/strata/pkg/types"
	"github.com/spaolacci/murmur3"
)

// TransformKind enumerates the supported transforms.
type TransformKind string

const (
	Identity TransformKind = "identity"
	Bucket   TransformKind = "bucket"
	Truncate TransformKind = "truncate"
	Year     TransformKind = "year"
	Month    TransformKind = "month"
	Day      TransformKind = "day"
	Hour     TransformKind = "hour"
	Void     TransformKind = "void"
)

// Transform is a tagged variant: Param is the bucket count for Bucket and
// the width for Truncate and zero otherwise.
type Transform struct {
	Kind  TransformKind
	Param int
}

var paramPattern = regexp.MustCompile(`^(bucket|truncate)\[(\d+)\]$`)

// ParseTransform parses the metadata representation, e.g. "bucket[16]".
func ParseTransform(s string) (Transform, error) {
	if m := paramPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return Transform{}, fmt.Errorf("invalid transform parameter in %q", s)
		}
		return Transform{Kind: TransformKind(m[1]), Param: n}, nil
	}
	switch k := TransformKind(s); k {
	case Identity, Year, Month, Day, Hour, Void:
		return Transform{Kind: k}, nil
	}
	return Transform{}, fmt.Errorf("unknown transform %q", s)
}

func (t Transform) String() string {
	switch t.Kind {
	case Bucket, Truncate:
		return fmt.Sprintf("%s[%d]", t.Kind, t.Param)
	}
	return string(t.Kind)
}

func (t Transform) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Transform) UnmarshalText(b []byte) error {
	parsed, err := ParseTransform(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CanTransform reports whether the transform accepts a source of type src.
func (t Transform) CanTransform(src types.Type) bool {
	switch t.Kind {
	case Identity, Void:
		return true
	case Bucket:
		switch src {
		case types.Int, types.Long, types.Date, types.Time, types.Timestamp, types.TimestampTz,
			types.String, types.Binary, types.UUID:
			return true
		}
	case Truncate:
		switch src {
		case types.Int, types.Long, types.String, types.Binary:
			return true
		}
	case Year, Month, Day:
		switch src {
		case types.Date, types.Timestamp, types.TimestampTz:
			return true
		}
	case Hour:
		return src == types.Timestamp || src == types.TimestampTz
	}
	return false
}

// ResultType is the type of the partition value produced from src.
func (t Transform) ResultType(src types.Type) types.Type {
	switch t.Kind {
	case Bucket, Year, Month, Hour:
		return types.Int
	case Day:
		return types.Date
	}
	return src
}

// PreservesOrder reports whether v1 <= v2 implies t(v1) <= t(v2), which
// makes range predicates projectable.
func (t Transform) PreservesOrder() bool {
	switch t.Kind {
	case Identity, Truncate, Year, Month, Day, Hour:
		return true
	}
	return false
}

// Apply transforms a source value. Null maps to null.
func (t Transform) Apply(v types.Literal) (types.Literal, error) {
	if v.IsNull() || t.Kind == Void {
		return types.Null, nil
	}
	switch t.Kind {
	case Identity:
		return v, nil
	case Bucket:
		h, err := bucketHash(v)
		if err != nil {
			return types.Null, err
		}
		return types.IntLiteral(int32((h & 0x7fffffff) % uint32(t.Param))), nil
	case Truncate:
		return truncate(v, t.Param)
	case Year, Month, Day, Hour:
		return temporal(t.Kind, v)
	}
	return types.Null, fmt.Errorf("unknown transform %q", t.Kind)
}

// bucketHash hashes the value with 32-bit murmur3. Integer-like values
// are hashed as 8-byte little-endian longs so int and long buckets agree.
func bucketHash(v types.Literal) (uint32, error) {
	if i, ok := v.Int64(); ok {
		return murmur3.Sum32(binary.LittleEndian.AppendUint64(nil, uint64(i))), nil
	}
	switch v.Type() {
	case types.String, types.Binary, types.UUID:
		return murmur3.Sum32(types.ToBytes(v)), nil
	}
	return 0, fmt.Errorf("cannot bucket %s", v.Type())
}

func truncate(v types.Literal, width int) (types.Literal, error) {
	switch v.Type() {
	case types.Int:
		x, _ := v.Int64()
		return types.IntLiteral(int32(max(x-floorMod(x, int64(width)), math.MinInt32))), nil
	case types.Long:
		x, _ := v.Int64()
		m := floorMod(x, int64(width))
		// Truncating below the minimum saturates so the transform keeps
		// its order.
		if x < math.MinInt64+m {
			return types.LongLiteral(math.MinInt64), nil
		}
		return types.LongLiteral(x - m), nil
	case types.String:
		s := v.Value().(string)
		if utf8.RuneCountInString(s) <= width {
			return v, nil
		}
		n := 0
		for i := range s {
			if n == width {
				return types.StringLiteral(s[:i]), nil
			}
			n++
		}
		return v, nil
	case types.Binary:
		b := v.Value().([]byte)
		if len(b) <= width {
			return v, nil
		}
		return types.BinaryLiteral(b[:width]), nil
	}
	return types.Null, fmt.Errorf("cannot truncate %s", v.Type())
}

const (
	microsPerHour = int64(time.Hour / time.Microsecond)
	microsPerDay  = 24 * microsPerHour
)

func temporal(kind TransformKind, v types.Literal) (types.Literal, error) {
	x, ok := v.Int64()
	if !ok {
		return types.Null, fmt.Errorf("cannot apply %s to %s", kind, v.Type())
	}
	var days int64
	switch v.Type() {
	case types.Date:
		if kind == Hour {
			return types.Null, fmt.Errorf("cannot apply hour to date")
		}
		days = x
	case types.Timestamp, types.TimestampTz:
		if kind == Hour {
			h := floorDiv(x, microsPerHour)
			return types.IntLiteral(int32(min(max(h, math.MinInt32), math.MaxInt32))), nil
		}
		days = floorDiv(x, microsPerDay)
	default:
		return types.Null, fmt.Errorf("cannot apply %s to %s", kind, v.Type())
	}
	if kind == Day {
		return types.DateLiteral(int32(days)), nil
	}
	d := time.Unix(days*86400, 0).UTC()
	years := int64(d.Year() - 1970)
	if kind == Year {
		return types.IntLiteral(int32(years)), nil
	}
	return types.IntLiteral(int32(years*12 + int64(d.Month()) - 1)), nil
}

// HumanString renders a partition value the way it appears in paths.
func (t Transform) HumanString(v types.Literal) string {
	if v.IsNull() {
		return "null"
	}
	x, _ := v.Int64()
	switch t.Kind {
	case Year:
		return strconv.Itoa(1970 + int(x))
	case Month:
		return fmt.Sprintf("%04d-%02d", 1970+floorDiv(x, 12), floorMod(x, 12)+1)
	case Hour:
		return time.Unix(x*3600, 0).UTC().Format("2006-01-02-15")
	}
	s := v.String()
	if v.Type() == types.String {
		s, _ = strconv.Unquote(s)
	}
	return s
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return ((a % b) + b) % b
}
