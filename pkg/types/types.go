// Package types provides the primitive type system shared by schemas,
// partition transforms, column statistics and predicates.
package types

import "fmt"

// Type is a primitive column type. The string form is the one used in
// table metadata JSON.
type Type string

const (
	Boolean     Type = "boolean"
	Int         Type = "int"
	Long        Type = "long"
	Float       Type = "float"
	Double      Type = "double"
	Date        Type = "date"
	Time        Type = "time"
	Timestamp   Type = "timestamp"
	TimestampTz Type = "timestamptz"
	String      Type = "string"
	UUID        Type = "uuid"
	Binary      Type = "binary"
)

var allTypes = []Type{Boolean, Int, Long, Float, Double, Date, Time, Timestamp, TimestampTz, String, UUID, Binary}

// AllTypes returns every supported primitive type.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a known primitive type.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ParseType validates a type name read from metadata or user input.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown type %q", s)
	}
	return t, nil
}

// IsNumeric reports whether values of t have a numeric order.
func (t Type) IsNumeric() bool {
	switch t {
	case Int, Long, Float, Double, Date, Time, Timestamp, TimestampTz:
		return true
	}
	return false
}

// IsFloating reports whether t may hold NaN.
func (t Type) IsFloating() bool {
	return t == Float || t == Double
}

// CanPromoteTo reports whether a column of type t may be widened to u
// without rewriting data files.
func (t Type) CanPromoteTo(u Type) bool {
	if t == u {
		return true
	}
	switch t {
	case Int:
		return u == Long
	case Float:
		return u == Double
	}
	return false
}

// Row is a single record keyed by column name, as accepted by data file
// writers and produced by readers.
type Row map[string]any
