// Package metadata models table metadata: the schema history, partition
// specs, snapshots, refs and logs that make up one immutable version of a
// table. Each committed version is written once as a JSON file and never
// modified.
package metadata

import (
	"iter"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
)

const (
	FormatV1 = 1
	FormatV2 = 2

	// MainBranch is the branch that current-snapshot-id tracks.
	MainBranch = "main"
)

// Table properties understood by the engine.
const (
	PropPreviousVersionsMax          = "write.metadata.previous-versions-max"
	PropCommitNumRetries             = "commit.retry.num-retries"
	PropMinSnapshotsToKeep           = "history.expire.min-snapshots-to-keep"
	PropMaxSnapshotAgeMs             = "history.expire.max-snapshot-age-ms"
	PropBloomFilterColumns           = "write.parquet.bloom-filter-columns"
	PropTargetFileSizeBytes          = "write.target-file-size-bytes"
	DefaultPreviousVersionsMax       = 100
	DefaultMinSnapshotsToKeep        = 1
	DefaultMaxSnapshotAgeMs    int64 = 5 * 24 * 60 * 60 * 1000
)

// Operation is the kind of change a snapshot records.
type Operation string

const (
	OpAppend    Operation = "append"
	OpReplace   Operation = "replace"
	OpOverwrite Operation = "overwrite"
	OpDelete    Operation = "delete"
)

// Summary describes a snapshot's change. Properties hold the counters
// written by the snapshot builder ("added-data-files", "total-records", ...).
type Summary struct {
	Operation  Operation
	Properties map[string]string
}

// Int returns a numeric summary property, or 0.
func (s *Summary) Int(key string) int64 {
	if s == nil {
		return 0
	}
	v, _ := strconv.ParseInt(s.Properties[key], 10, 64)
	return v
}

// Snapshot is the state of a table at one commit.
type Snapshot struct {
	SnapshotID       int64    `json:"snapshot-id"`
	ParentSnapshotID *int64   `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64    `json:"sequence-number"`
	TimestampMs      int64    `json:"timestamp-ms"`
	ManifestList     string   `json:"manifest-list"`
	Summary          *Summary `json:"summary,omitempty"`
	SchemaID         *int     `json:"schema-id,omitempty"`
}

// RefType distinguishes movable branches from fixed tags.
type RefType string

const (
	BranchRef RefType = "branch"
	TagRef    RefType = "tag"
)

// SnapshotRef names a snapshot.
type SnapshotRef struct {
	SnapshotID         int64   `json:"snapshot-id"`
	Type               RefType `json:"type"`
	MinSnapshotsToKeep *int    `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMs   *int64  `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMs        *int64  `json:"max-ref-age-ms,omitempty"`
}

// SnapshotLogEntry records when the main branch changed.
type SnapshotLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// MetadataLogEntry records a previous metadata file.
type MetadataLogEntry struct {
	TimestampMs  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// SortOrder is carried for compatibility; the engine always writes the
// unsorted order.
type SortOrder struct {
	OrderID int              `json:"order-id"`
	Fields  []map[string]any `json:"fields"`
}

// TableMetadata is one immutable version of a table.
type TableMetadata struct {
	FormatVersion      int
	TableUUID          uuid.UUID
	Location           string
	LastSequenceNumber int64
	LastUpdatedMs      int64
	LastColumnID       int
	Schemas            []*schema.Schema
	CurrentSchemaID    int
	Specs              []*partition.Spec
	DefaultSpecID      int
	LastPartitionID    int
	Properties         map[string]string
	CurrentSnapshotID  *int64
	Snapshots          []Snapshot
	SnapshotLog        []SnapshotLogEntry
	MetadataLog        []MetadataLogEntry
	SortOrders         []SortOrder
	DefaultSortOrderID int
	Refs               map[string]SnapshotRef
}

// CurrentSchema returns the schema new writes use.
func (m *TableMetadata) CurrentSchema() *schema.Schema {
	s, _ := m.SchemaByID(m.CurrentSchemaID)
	return s
}

// SchemaByID returns a historical schema.
func (m *TableMetadata) SchemaByID(id int) (*schema.Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == id {
			return s, true
		}
	}
	return nil, false
}

// DefaultSpec returns the spec new writes use.
func (m *TableMetadata) DefaultSpec() *partition.Spec {
	s, _ := m.SpecByID(m.DefaultSpecID)
	return s
}

// SpecByID returns a historical partition spec.
func (m *TableMetadata) SpecByID(id int) (*partition.Spec, bool) {
	for _, s := range m.Specs {
		if s.SpecID == id {
			return s, true
		}
	}
	return nil, false
}

// SpecsByID indexes all specs.
func (m *TableMetadata) SpecsByID() map[int]*partition.Spec {
	out := make(map[int]*partition.Spec, len(m.Specs))
	for _, s := range m.Specs {
		out[s.SpecID] = s
	}
	return out
}

// SnapshotByID returns a snapshot by ID.
func (m *TableMetadata) SnapshotByID(id int64) (*Snapshot, bool) {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i], true
		}
	}
	return nil, false
}

// CurrentSnapshot returns the head of main, or nil for an empty table.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	if m.CurrentSnapshotID == nil {
		return nil
	}
	s, _ := m.SnapshotByID(*m.CurrentSnapshotID)
	return s
}

// SnapshotByRef returns the snapshot a branch or tag points to. An empty
// name means main. ok is false if the ref does not exist; a main branch
// without snapshots yields (nil, true).
func (m *TableMetadata) SnapshotByRef(name string) (*Snapshot, bool) {
	if name == "" {
		name = MainBranch
	}
	ref, ok := m.Refs[name]
	if !ok {
		return nil, name == MainBranch
	}
	return m.SnapshotByID(ref.SnapshotID)
}

// SnapshotAsOf returns the snapshot that was current on main at tsMs.
func (m *TableMetadata) SnapshotAsOf(tsMs int64) (*Snapshot, bool) {
	var found *int64
	for _, e := range m.SnapshotLog {
		if e.TimestampMs > tsMs {
			break
		}
		id := e.SnapshotID
		found = &id
	}
	if found == nil {
		return nil, false
	}
	return m.SnapshotByID(*found)
}

// Ancestors yields the snapshot with the given ID and then its parents, as
// far as they are retained.
func (m *TableMetadata) Ancestors(id int64) iter.Seq[*Snapshot] {
	return func(yield func(*Snapshot) bool) {
		next := &id
		for next != nil {
			s, ok := m.SnapshotByID(*next)
			if !ok || !yield(s) {
				return
			}
			next = s.ParentSnapshotID
		}
	}
}

// IsAncestor reports whether ancestor is id or one of its parents.
func (m *TableMetadata) IsAncestor(id, ancestor int64) bool {
	for s := range m.Ancestors(id) {
		if s.SnapshotID == ancestor {
			return true
		}
	}
	return false
}

// Property returns a table property or def.
func (m *TableMetadata) Property(key, def string) string {
	if v, ok := m.Properties[key]; ok {
		return v
	}
	return def
}

// PropertyInt returns an integer table property or def when it is missing
// or malformed.
func (m *TableMetadata) PropertyInt(key string, def int64) int64 {
	v, ok := m.Properties[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// RefNames returns ref names in sorted order.
func (m *TableMetadata) RefNames() []string {
	names := make([]string, 0, len(m.Refs))
	for n := range m.Refs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
