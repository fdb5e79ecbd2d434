// Package schema models table schemas with stable field IDs and the
// evolution rules that keep old data files readable.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkilian/strata/pkg/types"
)

// Field is a top-level column. IDs are assigned once and never reused, so
// data files written under any historical schema resolve columns by ID.
type Field struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Required bool       `json:"required"`
	Type     types.Type `json:"type"`
	Doc      string     `json:"doc,omitempty"`
}

// Schema is an ordered set of fields.
type Schema struct {
	SchemaID           int     `json:"schema-id"`
	Fields             []Field `json:"fields"`
	IdentifierFieldIDs []int   `json:"identifier-field-ids,omitempty"`
}

// New creates a schema from fields.
func New(id int, fields ...Field) *Schema {
	return &Schema{SchemaID: id, Fields: fields}
}

type schemaJSON struct {
	Type               string  `json:"type"`
	SchemaID           int     `json:"schema-id"`
	Fields             []Field `json:"fields"`
	IdentifierFieldIDs []int   `json:"identifier-field-ids,omitempty"`
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(schemaJSON{
		Type:               "struct",
		SchemaID:           s.SchemaID,
		Fields:             s.Fields,
		IdentifierFieldIDs: s.IdentifierFieldIDs,
	})
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Type != "" && raw.Type != "struct" {
		return fmt.Errorf("schema type must be struct, got %q", raw.Type)
	}
	s.SchemaID = raw.SchemaID
	s.Fields = raw.Fields
	s.IdentifierFieldIDs = raw.IdentifierFieldIDs
	return nil
}

// FieldByID returns the field with the given ID.
func (s *Schema) FieldByID(id int) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldByName returns the field with the given name.
func (s *Schema) FieldByName(name string, caseSensitive bool) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name || (!caseSensitive && strings.EqualFold(f.Name, name)) {
			return f, true
		}
	}
	return Field{}, false
}

// HighestFieldID returns the largest field ID in the schema.
func (s *Schema) HighestFieldID() int {
	highest := 0
	for _, f := range s.Fields {
		if f.ID > highest {
			highest = f.ID
		}
	}
	return highest
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Select returns a schema restricted to the named columns, keeping the
// original field order. Unknown names are an error.
func (s *Schema) Select(caseSensitive bool, names ...string) (*Schema, error) {
	if len(names) == 0 {
		return s, nil
	}
	keep := make(map[int]bool, len(names))
	for _, n := range names {
		f, ok := s.FieldByName(n, caseSensitive)
		if !ok {
			return nil, fmt.Errorf("cannot find column %q", n)
		}
		keep[f.ID] = true
	}
	out := &Schema{SchemaID: s.SchemaID}
	for _, f := range s.Fields {
		if keep[f.ID] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out, nil
}

// Validate checks that names and IDs are unique and types are known.
func (s *Schema) Validate() error {
	ids := make(map[int]bool, len(s.Fields))
	names := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.ID <= 0 {
			return fmt.Errorf("field %q has invalid id %d", f.Name, f.ID)
		}
		if f.Name == "" {
			return fmt.Errorf("field %d has empty name", f.ID)
		}
		if ids[f.ID] {
			return fmt.Errorf("duplicate field id %d", f.ID)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		ids[f.ID] = true
		names[f.Name] = true
	}
	for _, id := range s.IdentifierFieldIDs {
		f, ok := s.FieldByID(id)
		if !ok {
			return fmt.Errorf("identifier field %d not in schema", id)
		}
		if !f.Required {
			return fmt.Errorf("identifier field %q must be required", f.Name)
		}
	}
	return nil
}

// SameStructure reports whether two schemas have identical fields,
// ignoring schema IDs.
func (s *Schema) SameStructure(o *Schema) bool {
	if len(s.Fields) != len(o.Fields) || len(s.IdentifierFieldIDs) != len(o.IdentifierFieldIDs) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	for i := range s.IdentifierFieldIDs {
		if s.IdentifierFieldIDs[i] != o.IdentifierFieldIDs[i] {
			return false
		}
	}
	return true
}

// AssignFreshIDs returns a copy of s whose fields are numbered 1..n in order.
// Used when creating a table from a user supplied schema.
func AssignFreshIDs(s *Schema) *Schema {
	out := &Schema{SchemaID: 0, Fields: make([]Field, len(s.Fields))}
	remap := make(map[int]int, len(s.Fields))
	for i, f := range s.Fields {
		remap[f.ID] = i + 1
		f.ID = i + 1
		out.Fields[i] = f
	}
	for _, id := range s.IdentifierFieldIDs {
		if nid, ok := remap[id]; ok {
			out.IdentifierFieldIDs = append(out.IdentifierFieldIDs, nid)
		}
	}
	return out
}

func (s *Schema) String() string {
	var b strings.Builder
	b.WriteString("table {\n")
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "  %d: %s: %s %s\n", f.ID, f.Name, req, f.Type)
	}
	b.WriteString("}")
	return b.String()
}
