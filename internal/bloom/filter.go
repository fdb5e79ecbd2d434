// Package bloom provides per-column bloom filters stored alongside data
// file statistics. They let the planner skip files for equality and IN
// predicates whose values fall inside the min/max range but were never
// written.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/arkilian/strata/pkg/types"
	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over column values. It never reports a false
// negative. A Filter is not safe for concurrent mutation; writers build it
// on one goroutine and readers only call Contains.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	// Round up to whole words
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a Filter for expectedItems at targetFPR.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates the number of bits and hash functions for
// n expected items at false positive rate p:
//
//	m = -n * ln(p) / (ln(2)^2)
//	k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add adds raw bytes to the filter.
func (f *Filter) Add(item []byte) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// Contains reports whether item may have been added.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// AddLiteral adds a column value. Null is ignored.
func (f *Filter) AddLiteral(v types.Literal) {
	if v.IsNull() {
		return
	}
	f.Add(canonicalBytes(v))
}

// ContainsLiteral reports whether a column value may be present.
func (f *Filter) ContainsLiteral(v types.Literal) bool {
	if v.IsNull() {
		return true
	}
	return f.Contains(canonicalBytes(v))
}

// canonicalBytes hashes integers as 8-byte longs and floats as doubles so
// a filter written before an int->long or float->double promotion still
// matches predicates bound to the wider type. Values that compare equal
// hash equally: -0 is hashed as +0 and every NaN as one NaN.
func canonicalBytes(v types.Literal) []byte {
	if i, ok := v.Int64(); ok {
		return binary.LittleEndian.AppendUint64(nil, uint64(i))
	}
	if v.Type().IsFloating() {
		d, _ := v.Float64()
		switch {
		case d == 0:
			d = 0
		case math.IsNaN(d):
			d = math.NaN()
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(d))
	}
	return types.ToBytes(v)
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int { return int(f.numHashes) }

// Count returns the number of items added.
func (f *Filter) Count() uint64 { return f.count }

// FalsePositiveRate estimates the false positive rate from the fill:
// (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
