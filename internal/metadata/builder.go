package metadata

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
)

// NewTable creates the first metadata version of a table. Column IDs are
// reassigned from 1 and partition field IDs from partition.FirstFieldID;
// the spec's source IDs are remapped to the fresh column IDs.
func NewTable(location string, sch *schema.Schema, spec *partition.Spec, props map[string]string) (*TableMetadata, error) {
	if location == "" {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "table location is required")
	}
	if err := sch.Validate(); err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}
	fresh := schema.AssignFreshIDs(sch)
	remap := make(map[int]int, len(sch.Fields))
	for i, f := range sch.Fields {
		remap[f.ID] = fresh.Fields[i].ID
	}

	if spec == nil {
		spec = partition.Unpartitioned()
	}
	freshSpec := &partition.Spec{SpecID: 0, Fields: make([]partition.Field, len(spec.Fields))}
	for i, f := range spec.Fields {
		src, ok := remap[f.SourceID]
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("partition field %q: unknown source column %d", f.Name, f.SourceID))
		}
		f.SourceID = src
		f.FieldID = partition.FirstFieldID + i
		freshSpec.Fields[i] = f
	}
	if err := freshSpec.Validate(fresh); err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}

	properties := make(map[string]string, len(props))
	maps.Copy(properties, props)

	m := &TableMetadata{
		FormatVersion:   FormatV2,
		TableUUID:       uuid.New(),
		Location:        location,
		LastUpdatedMs:   time.Now().UnixMilli(),
		LastColumnID:    fresh.HighestFieldID(),
		Schemas:         []*schema.Schema{fresh},
		CurrentSchemaID: fresh.SchemaID,
		Specs:           []*partition.Spec{freshSpec},
		DefaultSpecID:   0,
		LastPartitionID: freshSpec.LastFieldID(),
		Properties:      properties,
		SortOrders:      []SortOrder{{OrderID: 0, Fields: []map[string]any{}}},
		Refs:            map[string]SnapshotRef{},
	}
	return m, Validate(m)
}

// Builder derives a new metadata version from a base. The base is never
// modified. The first error sticks and is returned by Build.
type Builder struct {
	base *TableMetadata
	m    *TableMetadata
	err  error
	now  func() time.Time
}

// BuildFrom starts a new version based on base.
func BuildFrom(base *TableMetadata) *Builder {
	m := *base
	m.Schemas = slices.Clone(base.Schemas)
	m.Specs = slices.Clone(base.Specs)
	m.Properties = maps.Clone(base.Properties)
	if m.Properties == nil {
		m.Properties = map[string]string{}
	}
	m.Snapshots = slices.Clone(base.Snapshots)
	m.SnapshotLog = slices.Clone(base.SnapshotLog)
	m.MetadataLog = slices.Clone(base.MetadataLog)
	m.SortOrders = slices.Clone(base.SortOrders)
	m.Refs = maps.Clone(base.Refs)
	if m.Refs == nil {
		m.Refs = map[string]SnapshotRef{}
	}
	if base.CurrentSnapshotID != nil {
		id := *base.CurrentSnapshotID
		m.CurrentSnapshotID = &id
	}
	return &Builder{base: base, m: &m, now: time.Now}
}

// WithClock overrides the time source used for log entries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Current returns the metadata as built so far.
func (b *Builder) Current() *TableMetadata { return b.m }

// UpgradeFormatVersion raises the format version. Downgrades fail.
func (b *Builder) UpgradeFormatVersion(v int) *Builder {
	switch {
	case v < b.m.FormatVersion:
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("cannot downgrade format-version from %d to %d", b.m.FormatVersion, v)))
	case v > FormatV2:
		return b.fail(strataerrors.New(strataerrors.ErrCategoryMetadata, strataerrors.CodeUnsupportedVersion,
			fmt.Sprintf("unsupported format-version %d", v)))
	}
	b.m.FormatVersion = v
	if v >= FormatV2 && b.m.TableUUID == uuid.Nil {
		b.m.TableUUID = uuid.New()
	}
	return b
}

// SetCurrentSchema makes sch current, reusing an existing schema ID when a
// schema with the same structure already exists. lastColumnID may only
// grow.
func (b *Builder) SetCurrentSchema(sch *schema.Schema, lastColumnID int) *Builder {
	if lastColumnID < b.m.LastColumnID {
		return b.fail(strataerrors.NewSchemaIncompatible(
			fmt.Sprintf("last-column-id cannot decrease from %d to %d", b.m.LastColumnID, lastColumnID)))
	}
	if err := sch.Validate(); err != nil {
		return b.fail(strataerrors.NewSchemaIncompatible(err.Error()))
	}
	if sch.HighestFieldID() > lastColumnID {
		return b.fail(strataerrors.NewSchemaIncompatible("schema uses field IDs above last-column-id"))
	}
	for _, spec := range b.m.Specs {
		if spec.SpecID != b.m.DefaultSpecID {
			continue
		}
		if err := spec.Validate(sch); err != nil {
			return b.fail(strataerrors.NewSchemaIncompatible(fmt.Sprintf("default partition spec: %v", err)))
		}
	}
	b.m.LastColumnID = lastColumnID
	for _, existing := range b.m.Schemas {
		if existing.SameStructure(sch) {
			b.m.CurrentSchemaID = existing.SchemaID
			return b
		}
	}
	next := 0
	for _, s := range b.m.Schemas {
		if s.SchemaID >= next {
			next = s.SchemaID + 1
		}
	}
	added := *sch
	added.SchemaID = next
	b.m.Schemas = append(b.m.Schemas, &added)
	b.m.CurrentSchemaID = next
	return b
}

// SetDefaultSpec makes spec the default for new writes. Field IDs of new
// partition fields must be above last-partition-id unless they reuse an
// existing field with the same source and transform. An existing spec with
// the same layout is reused.
func (b *Builder) SetDefaultSpec(spec *partition.Spec) *Builder {
	if err := spec.Validate(b.m.CurrentSchema()); err != nil {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error()))
	}
	for _, existing := range b.m.Specs {
		if existing.CompatibleWith(spec) {
			b.m.DefaultSpecID = existing.SpecID
			return b
		}
	}
	next := 0
	for _, s := range b.m.Specs {
		if s.SpecID >= next {
			next = s.SpecID + 1
		}
	}
	added := &partition.Spec{SpecID: next, Fields: slices.Clone(spec.Fields)}
	if added.Fields == nil {
		added.Fields = []partition.Field{}
	}
	b.m.Specs = append(b.m.Specs, added)
	b.m.DefaultSpecID = next
	if last := added.LastFieldID(); last > b.m.LastPartitionID {
		b.m.LastPartitionID = last
	}
	return b
}

// SetProperties sets table properties.
func (b *Builder) SetProperties(props map[string]string) *Builder {
	maps.Copy(b.m.Properties, props)
	return b
}

// RemoveProperties removes table properties.
func (b *Builder) RemoveProperties(keys ...string) *Builder {
	for _, k := range keys {
		delete(b.m.Properties, k)
	}
	return b
}

// AddSnapshot adds a snapshot without pointing any ref at it. In format v2
// its sequence number must be above last-sequence-number.
func (b *Builder) AddSnapshot(s Snapshot) *Builder {
	if _, exists := b.m.SnapshotByID(s.SnapshotID); exists {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("snapshot %d already exists", s.SnapshotID)))
	}
	if b.m.FormatVersion >= FormatV2 && s.SequenceNumber <= b.m.LastSequenceNumber {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("sequence number %d is not above last-sequence-number %d", s.SequenceNumber, b.m.LastSequenceNumber)))
	}
	b.m.Snapshots = append(b.m.Snapshots, s)
	if s.SequenceNumber > b.m.LastSequenceNumber {
		b.m.LastSequenceNumber = s.SequenceNumber
	}
	return b
}

// SetBranchSnapshot points a branch at a snapshot, creating the branch if
// needed. Moving main also updates current-snapshot-id and the snapshot
// log.
func (b *Builder) SetBranchSnapshot(branch string, snapshotID int64) *Builder {
	if branch == "" {
		branch = MainBranch
	}
	snap, ok := b.m.SnapshotByID(snapshotID)
	if !ok {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("cannot set %s to unknown snapshot %d", branch, snapshotID)))
	}
	ref, exists := b.m.Refs[branch]
	if exists && ref.Type != BranchRef {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("%q is a tag, not a branch", branch)))
	}
	ref.Type = BranchRef
	ref.SnapshotID = snapshotID
	b.m.Refs[branch] = ref
	if branch == MainBranch {
		id := snapshotID
		b.m.CurrentSnapshotID = &id
		ts := snap.TimestampMs
		if now := b.now().UnixMilli(); now > ts {
			ts = now
		}
		b.m.SnapshotLog = append(b.m.SnapshotLog, SnapshotLogEntry{TimestampMs: ts, SnapshotID: snapshotID})
	}
	return b
}

// SetRef creates or replaces a ref. Use SetBranchSnapshot to move main.
func (b *Builder) SetRef(name string, ref SnapshotRef) *Builder {
	if name == MainBranch {
		if ref.Type != BranchRef {
			return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "main must be a branch"))
		}
		return b.SetBranchSnapshot(name, ref.SnapshotID)
	}
	if _, ok := b.m.SnapshotByID(ref.SnapshotID); !ok {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("ref %q: unknown snapshot %d", name, ref.SnapshotID)))
	}
	b.m.Refs[name] = ref
	return b
}

// RemoveRef deletes a branch or tag. main cannot be removed.
func (b *Builder) RemoveRef(name string) *Builder {
	if name == MainBranch {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "cannot remove main"))
	}
	if _, ok := b.m.Refs[name]; !ok {
		return b.fail(strataerrors.NewValidationError(strataerrors.CodeRefNotFound, fmt.Sprintf("ref %q not found", name)))
	}
	delete(b.m.Refs, name)
	return b
}

// RemoveSnapshots drops snapshots from the metadata. Snapshots that a ref
// points to cannot be removed. Snapshot log entries for removed snapshots
// are dropped.
func (b *Builder) RemoveSnapshots(ids ...int64) *Builder {
	remove := make(map[int64]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	for name, ref := range b.m.Refs {
		if remove[ref.SnapshotID] {
			return b.fail(strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("snapshot %d is the head of ref %q", ref.SnapshotID, name)))
		}
	}
	b.m.Snapshots = slices.DeleteFunc(b.m.Snapshots, func(s Snapshot) bool { return remove[s.SnapshotID] })
	b.m.SnapshotLog = slices.DeleteFunc(b.m.SnapshotLog, func(e SnapshotLogEntry) bool { return remove[e.SnapshotID] })
	return b
}

// Build finishes the new version. previousLocation, when set, is the
// metadata file the new version replaces; it is appended to the metadata
// log, which is trimmed to write.metadata.previous-versions-max entries.
func (b *Builder) Build(previousLocation string) (*TableMetadata, error) {
	if b.err != nil {
		return nil, b.err
	}
	now := b.now().UnixMilli()
	if previousLocation != "" {
		b.m.MetadataLog = append(b.m.MetadataLog, MetadataLogEntry{TimestampMs: b.base.LastUpdatedMs, MetadataFile: previousLocation})
	}
	maxPrev := int(b.m.PropertyInt(PropPreviousVersionsMax, DefaultPreviousVersionsMax))
	if maxPrev < 1 {
		maxPrev = 1
	}
	if n := len(b.m.MetadataLog); n > maxPrev {
		b.m.MetadataLog = slices.Clone(b.m.MetadataLog[n-maxPrev:])
	}
	if now > b.m.LastUpdatedMs {
		b.m.LastUpdatedMs = now
	}
	if err := Validate(b.m); err != nil {
		return nil, err
	}
	return b.m, nil
}
