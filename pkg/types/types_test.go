package types

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanPromoteTo(t *testing.T) {
	tests := []struct {
		from, to Type
		want     bool
	}{
		{Int, Long, true},
		{Float, Double, true},
		{Long, Int, false},
		{Double, Float, false},
		{String, Binary, false},
		{Date, Date, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanPromoteTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	if _, err := ParseType("long"); err != nil {
		t.Fatalf("ParseType(long): %v", err)
	}
	if _, err := ParseType("varchar"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		typ  Type
		in   any
		want Literal
	}{
		{"int from float64", Int, float64(42), IntLiteral(42)},
		{"long from int", Long, 7, LongLiteral(7)},
		{"long from string", Long, "-9", LongLiteral(-9)},
		{"double from int", Double, 3, DoubleLiteral(3)},
		{"date from string", Date, "1970-01-02", DateLiteral(1)},
		{"date before epoch", Date, "1969-12-31", DateLiteral(-1)},
		{"timestamp from time", Timestamp, ts, TimestampLiteral(ts.UnixMicro())},
		{"timestamp from rfc3339", TimestampTz, "2024-03-01T12:00:00Z", TimestampTzLiteral(ts.UnixMicro())},
		{"bool from string", Boolean, "true", BoolLiteral(true)},
		{"literal widening", Long, IntLiteral(5), LongLiteral(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in)
			if err != nil {
				t.Fatalf("Coerce: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v (%s), want %v (%s)", got, got.Type(), tt.want, tt.want.Type())
			}
		})
	}
}

func TestCoerce_Errors(t *testing.T) {
	if _, err := Coerce(Int, int64(math.MaxInt32)+1); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := Coerce(Long, "abc"); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Coerce(UUID, "not-a-uuid"); err == nil {
		t.Error("expected uuid error")
	}
	if l, err := Coerce(String, nil); err != nil || !l.IsNull() {
		t.Errorf("nil should coerce to null, got %v %v", l, err)
	}
}

func TestCompare(t *testing.T) {
	nan := DoubleLiteral(math.NaN())
	tests := []struct {
		a, b Literal
		want int
	}{
		{IntLiteral(1), IntLiteral(2), -1},
		{IntLiteral(2), LongLiteral(2), 0},
		{DoubleLiteral(1.5), DoubleLiteral(-1), 1},
		{nan, DoubleLiteral(math.Inf(1)), 1},
		{nan, nan, 0},
		{StringLiteral("a"), StringLiteral("b"), -1},
		{StringLiteral("é"), StringLiteral("z"), 1},
		{Null, IntLiteral(0), -1},
		{BoolLiteral(false), BoolLiteral(true), -1},
		{BinaryLiteral([]byte{1}), BinaryLiteral([]byte{1, 0}), -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBinaryRoundTrip_AllTypes(t *testing.T) {
	u := uuid.MustParse("f79c3e09-677c-4bbd-a479-3f349cb785e7")
	lits := []Literal{
		BoolLiteral(true),
		IntLiteral(-34),
		LongLiteral(1 << 40),
		FloatLiteral(1.25),
		DoubleLiteral(-2.5e10),
		DateLiteral(19000),
		TimeLiteral(3_600_000_000),
		TimestampLiteral(1_700_000_000_000_000),
		TimestampTzLiteral(-5),
		StringLiteral("iceberg"),
		BinaryLiteral([]byte{0xde, 0xad}),
		UUIDLiteral(u),
	}
	for _, l := range lits {
		got, err := FromBytes(l.Type(), ToBytes(l))
		if err != nil {
			t.Fatalf("FromBytes(%s): %v", l.Type(), err)
		}
		if !got.Equal(l) {
			t.Errorf("%s: got %v, want %v", l.Type(), got, l)
		}
	}
}

func TestFromBytes_PromotedBounds(t *testing.T) {
	got, err := FromBytes(Long, ToBytes(IntLiteral(-7)))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if v, _ := got.Int64(); v != -7 {
		t.Errorf("got %d, want -7", v)
	}
	if _, err := FromBytes(Int, []byte{1, 2}); err == nil {
		t.Error("expected length error")
	}
}
