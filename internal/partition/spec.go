package partition

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

// FirstFieldID is the ID assigned to the first partition field of a table.
// Partition field IDs live in their own space above column IDs.
const FirstFieldID = 1000

// Field maps a source column through a transform.
type Field struct {
	SourceID  int       `json:"source-id"`
	FieldID   int       `json:"field-id"`
	Name      string    `json:"name"`
	Transform Transform `json:"transform"`
}

// Spec is an ordered list of partition fields.
type Spec struct {
	SpecID int     `json:"spec-id"`
	Fields []Field `json:"fields"`
}

// Unpartitioned is the spec with no fields.
func Unpartitioned() *Spec {
	return &Spec{SpecID: 0, Fields: []Field{}}
}

// IsUnpartitioned reports whether the spec has no non-void fields.
func (s *Spec) IsUnpartitioned() bool {
	for _, f := range s.Fields {
		if f.Transform.Kind != Void {
			return false
		}
	}
	return true
}

// LastFieldID returns the highest partition field ID, or FirstFieldID-1.
func (s *Spec) LastFieldID() int {
	last := FirstFieldID - 1
	for _, f := range s.Fields {
		if f.FieldID > last {
			last = f.FieldID
		}
	}
	return last
}

// SourceIDs returns the column IDs referenced by the spec.
func (s *Spec) SourceIDs() []int {
	out := make([]int, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.SourceID)
	}
	return out
}

// FieldsBySource returns the partition fields derived from a column.
func (s *Spec) FieldsBySource(sourceID int) []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.SourceID == sourceID {
			out = append(out, f)
		}
	}
	return out
}

// ResultTypes returns the type of each partition field under sch.
func (s *Spec) ResultTypes(sch *schema.Schema) ([]types.Type, error) {
	out := make([]types.Type, len(s.Fields))
	for i, f := range s.Fields {
		src, ok := sch.FieldByID(f.SourceID)
		if !ok {
			return nil, fmt.Errorf("partition field %q: source column %d not found", f.Name, f.SourceID)
		}
		out[i] = f.Transform.ResultType(src.Type)
	}
	return out, nil
}

// Validate checks the spec against a schema.
func (s *Spec) Validate(sch *schema.Schema) error {
	names := make(map[string]bool, len(s.Fields))
	ids := make(map[int]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("partition field %d has empty name", f.FieldID)
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate partition field name %q", f.Name)
		}
		if ids[f.FieldID] {
			return fmt.Errorf("duplicate partition field id %d", f.FieldID)
		}
		names[f.Name] = true
		ids[f.FieldID] = true
		src, ok := sch.FieldByID(f.SourceID)
		if !ok {
			return fmt.Errorf("partition field %q: source column %d not found", f.Name, f.SourceID)
		}
		if !f.Transform.CanTransform(src.Type) {
			return fmt.Errorf("partition field %q: cannot apply %s to %s", f.Name, f.Transform, src.Type)
		}
	}
	return nil
}

// CompatibleWith reports whether two specs partition data identically.
func (s *Spec) CompatibleWith(o *Spec) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		a, b := s.Fields[i], o.Fields[i]
		if a.SourceID != b.SourceID || a.Transform != b.Transform || a.Name != b.Name {
			return false
		}
	}
	return true
}

// Tuple holds one partition value per spec field.
type Tuple []types.Literal

// Key returns a string that is equal for equal tuples.
func (t Tuple) Key() string {
	var b strings.Builder
	for i, v := range t {
		if i > 0 {
			b.WriteByte('/')
		}
		if v.IsNull() {
			b.WriteString("\x00")
			continue
		}
		b.WriteString(string(v.Type()))
		b.WriteByte(':')
		b.Write(types.ToBytes(v))
	}
	return b.String()
}

// Equal reports whether two tuples hold the same values.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Path renders the tuple as a directory path, e.g. "ts_day=2024-01-02/level=warn".
func (s *Spec) Path(t Tuple) string {
	parts := make([]string, 0, len(s.Fields))
	for i, f := range s.Fields {
		v := types.Null
		if i < len(t) {
			v = t[i]
		}
		parts = append(parts, url.QueryEscape(f.Name)+"="+url.QueryEscape(f.Transform.HumanString(v)))
	}
	return strings.Join(parts, "/")
}
