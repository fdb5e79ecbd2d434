package partition

import (
	"fmt"

	"github.com/arkilian/strata/internal/schema"
)

// SpecBuilder assembles a spec against a schema, assigning partition field
// IDs above lastAssigned so IDs are never reused across spec evolution.
type SpecBuilder struct {
	sch          *schema.Schema
	specID       int
	lastAssigned int
	fields       []Field
	err          error
}

// NewSpecBuilder starts a spec. lastAssigned is the table's
// last-partition-id (FirstFieldID-1 for a new table).
func NewSpecBuilder(sch *schema.Schema, specID, lastAssigned int) *SpecBuilder {
	if lastAssigned < FirstFieldID-1 {
		lastAssigned = FirstFieldID - 1
	}
	return &SpecBuilder{sch: sch, specID: specID, lastAssigned: lastAssigned}
}

// Add appends a partition field. An empty name defaults to
// "<column>" for identity and "<column>_<transform>" otherwise.
func (b *SpecBuilder) Add(column string, t Transform, name string) *SpecBuilder {
	if b.err != nil {
		return b
	}
	src, ok := b.sch.FieldByName(column, true)
	if !ok {
		b.err = fmt.Errorf("cannot find source column %q", column)
		return b
	}
	if name == "" {
		name = DefaultFieldName(src.Name, t)
	}
	b.lastAssigned++
	b.fields = append(b.fields, Field{SourceID: src.ID, FieldID: b.lastAssigned, Name: name, Transform: t})
	return b
}

// Build validates and returns the spec.
func (b *SpecBuilder) Build() (*Spec, error) {
	if b.err != nil {
		return nil, b.err
	}
	s := &Spec{SpecID: b.specID, Fields: b.fields}
	if s.Fields == nil {
		s.Fields = []Field{}
	}
	if err := s.Validate(b.sch); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultFieldName names a partition field after its source column and
// transform.
func DefaultFieldName(column string, t Transform) string {
	switch t.Kind {
	case Identity:
		return column
	case Bucket, Truncate:
		return fmt.Sprintf("%s_%s_%d", column, t.Kind, t.Param)
	}
	return column + "_" + string(t.Kind)
}
