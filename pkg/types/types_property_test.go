package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_BinaryRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("long bounds survive serialization", prop.ForAll(
		func(v int64) bool {
			got, err := FromBytes(Long, ToBytes(LongLiteral(v)))
			return err == nil && got.Equal(LongLiteral(v))
		},
		gen.Int64(),
	))

	properties.Property("string bounds survive serialization", prop.ForAll(
		func(v string) bool {
			got, err := FromBytes(String, ToBytes(StringLiteral(v)))
			return err == nil && got.Equal(StringLiteral(v))
		},
		gen.AnyString(),
	))

	properties.Property("double bounds survive serialization", prop.ForAll(
		func(v float64) bool {
			got, err := FromBytes(Double, ToBytes(DoubleLiteral(v)))
			return err == nil && Compare(got, DoubleLiteral(v)) == 0
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}

func TestProperty_CompareIsAntisymmetric(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Compare(a,b) == -Compare(b,a) for ints", prop.ForAll(
		func(a, b int32) bool {
			return Compare(IntLiteral(a), IntLiteral(b)) == -Compare(IntLiteral(b), IntLiteral(a))
		},
		gen.Int32(),
		gen.Int32(),
	))

	properties.Property("Compare agrees with string order", prop.ForAll(
		func(a, b string) bool {
			c := Compare(StringLiteral(a), StringLiteral(b))
			switch {
			case a < b:
				return c < 0
			case a > b:
				return c > 0
			}
			return c == 0
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
