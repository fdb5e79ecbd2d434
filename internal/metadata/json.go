package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
)

// MarshalJSON writes the summary as a flat string map with an
// "operation" key.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s.Properties)+1)
	for k, v := range s.Properties {
		out[k] = v
	}
	out["operation"] = string(s.Operation)
	return json.Marshal(out)
}

func (s *Summary) UnmarshalJSON(b []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Operation = Operation(raw["operation"])
	delete(raw, "operation")
	s.Properties = raw
	return nil
}

// tableMetadataJSON is the on-disk layout. Fields only present in format
// v1 are kept so that v1 files can be read and written.
type tableMetadataJSON struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid,omitempty"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number,omitempty"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schema             *schema.Schema         `json:"schema,omitempty"`
	Schemas            []*schema.Schema       `json:"schemas,omitempty"`
	CurrentSchemaID    *int                   `json:"current-schema-id,omitempty"`
	PartitionSpec      []partition.Field      `json:"partition-spec,omitempty"`
	PartitionSpecs     []*partition.Spec      `json:"partition-specs,omitempty"`
	DefaultSpecID      *int                   `json:"default-spec-id,omitempty"`
	LastPartitionID    *int                   `json:"last-partition-id,omitempty"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
	SortOrders         []SortOrder            `json:"sort-orders,omitempty"`
	DefaultSortOrderID *int                   `json:"default-sort-order-id,omitempty"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

// Encode renders metadata as JSON. Format v1 output also carries the
// single "schema" and "partition-spec" fields older readers expect.
func Encode(m *TableMetadata) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	currentSchema, defaultSpec, lastPartition, sortOrder := m.CurrentSchemaID, m.DefaultSpecID, m.LastPartitionID, m.DefaultSortOrderID
	out := tableMetadataJSON{
		FormatVersion:      m.FormatVersion,
		Location:           m.Location,
		LastUpdatedMs:      m.LastUpdatedMs,
		LastColumnID:       m.LastColumnID,
		Schemas:            m.Schemas,
		CurrentSchemaID:    &currentSchema,
		PartitionSpecs:     m.Specs,
		DefaultSpecID:      &defaultSpec,
		LastPartitionID:    &lastPartition,
		Properties:         m.Properties,
		CurrentSnapshotID:  m.CurrentSnapshotID,
		Snapshots:          m.Snapshots,
		SnapshotLog:        m.SnapshotLog,
		MetadataLog:        m.MetadataLog,
		SortOrders:         m.SortOrders,
		DefaultSortOrderID: &sortOrder,
		Refs:               m.Refs,
	}
	if m.TableUUID != uuid.Nil {
		out.TableUUID = m.TableUUID.String()
	}
	if m.FormatVersion >= FormatV2 {
		out.LastSequenceNumber = m.LastSequenceNumber
	} else {
		out.Schema = m.CurrentSchema()
		out.PartitionSpec = m.DefaultSpec().Fields
	}
	if out.CurrentSnapshotID == nil && m.FormatVersion == FormatV1 {
		none := int64(-1)
		out.CurrentSnapshotID = &none
	}
	return json.Marshal(out)
}

// Decode parses a metadata file. Unknown fields are ignored, and v1 files
// missing the schema list, spec list, refs or sequence numbers are
// upgraded in memory. Malformed input yields a CORRUPT_METADATA error and
// an unknown format version yields UNSUPPORTED_VERSION.
func Decode(data []byte) (*TableMetadata, error) {
	if !gjson.ValidBytes(data) {
		return nil, strataerrors.NewCorruptMetadata("metadata is not valid JSON", nil)
	}
	fv := gjson.GetBytes(data, "format-version")
	if !fv.Exists() {
		return nil, strataerrors.NewCorruptMetadata("metadata has no format-version", nil)
	}
	if v := fv.Int(); v != FormatV1 && v != FormatV2 {
		return nil, strataerrors.New(strataerrors.ErrCategoryMetadata, strataerrors.CodeUnsupportedVersion,
			fmt.Sprintf("unsupported format-version %s", fv.Raw))
	}

	var raw tableMetadataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, strataerrors.NewCorruptMetadata("decode metadata", err)
	}

	m := &TableMetadata{
		FormatVersion:      raw.FormatVersion,
		Location:           raw.Location,
		LastSequenceNumber: raw.LastSequenceNumber,
		LastUpdatedMs:      raw.LastUpdatedMs,
		LastColumnID:       raw.LastColumnID,
		Schemas:            raw.Schemas,
		Specs:              raw.PartitionSpecs,
		Properties:         raw.Properties,
		CurrentSnapshotID:  raw.CurrentSnapshotID,
		Snapshots:          raw.Snapshots,
		SnapshotLog:        raw.SnapshotLog,
		MetadataLog:        raw.MetadataLog,
		SortOrders:         raw.SortOrders,
		Refs:               raw.Refs,
	}
	if raw.TableUUID != "" {
		id, err := uuid.Parse(raw.TableUUID)
		if err != nil {
			return nil, strataerrors.NewCorruptMetadata("invalid table-uuid", err)
		}
		m.TableUUID = id
	}

	// Schemas: v1 files may only carry "schema".
	if len(m.Schemas) == 0 && raw.Schema != nil {
		m.Schemas = []*schema.Schema{raw.Schema}
	}
	switch {
	case raw.CurrentSchemaID != nil:
		m.CurrentSchemaID = *raw.CurrentSchemaID
	case raw.Schema != nil:
		m.CurrentSchemaID = raw.Schema.SchemaID
	case len(m.Schemas) > 0:
		m.CurrentSchemaID = m.Schemas[0].SchemaID
	}

	// Specs: v1 files may only carry "partition-spec".
	if len(m.Specs) == 0 {
		fields := raw.PartitionSpec
		if fields == nil {
			fields = []partition.Field{}
		}
		m.Specs = []*partition.Spec{{SpecID: 0, Fields: fields}}
	}
	if raw.DefaultSpecID != nil {
		m.DefaultSpecID = *raw.DefaultSpecID
	} else {
		m.DefaultSpecID = m.Specs[0].SpecID
	}
	if raw.LastPartitionID != nil {
		m.LastPartitionID = *raw.LastPartitionID
	} else {
		m.LastPartitionID = partition.FirstFieldID - 1
		for _, s := range m.Specs {
			if last := s.LastFieldID(); last > m.LastPartitionID {
				m.LastPartitionID = last
			}
		}
	}
	if raw.DefaultSortOrderID != nil {
		m.DefaultSortOrderID = *raw.DefaultSortOrderID
	}
	if len(m.SortOrders) == 0 {
		m.SortOrders = []SortOrder{{OrderID: 0, Fields: []map[string]any{}}}
	}

	if m.CurrentSnapshotID != nil && *m.CurrentSnapshotID == -1 {
		m.CurrentSnapshotID = nil
	}
	if m.Properties == nil {
		m.Properties = map[string]string{}
	}
	if m.Refs == nil {
		m.Refs = map[string]SnapshotRef{}
		if m.CurrentSnapshotID != nil {
			m.Refs[MainBranch] = SnapshotRef{SnapshotID: *m.CurrentSnapshotID, Type: BranchRef}
		}
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the internal consistency of metadata. All failures are
// CORRUPT_METADATA errors.
func Validate(m *TableMetadata) error {
	corrupt := func(format string, args ...any) error {
		return strataerrors.NewCorruptMetadata(fmt.Sprintf(format, args...), nil)
	}
	if m.FormatVersion != FormatV1 && m.FormatVersion != FormatV2 {
		return corrupt("invalid format-version %d", m.FormatVersion)
	}
	if m.Location == "" {
		return corrupt("missing location")
	}
	if m.FormatVersion >= FormatV2 && m.TableUUID == uuid.Nil {
		return corrupt("missing table-uuid")
	}
	cur := m.CurrentSchema()
	if cur == nil {
		return corrupt("current schema %d not found", m.CurrentSchemaID)
	}
	for _, s := range m.Schemas {
		if err := s.Validate(); err != nil {
			return strataerrors.NewCorruptMetadata(fmt.Sprintf("schema %d", s.SchemaID), err)
		}
		if s.HighestFieldID() > m.LastColumnID {
			return corrupt("schema %d uses field id %d above last-column-id %d", s.SchemaID, s.HighestFieldID(), m.LastColumnID)
		}
	}
	if m.DefaultSpec() == nil {
		return corrupt("default spec %d not found", m.DefaultSpecID)
	}
	for _, s := range m.Specs {
		if s.LastFieldID() > m.LastPartitionID {
			return corrupt("spec %d uses partition field id above last-partition-id %d", s.SpecID, m.LastPartitionID)
		}
	}
	if err := m.DefaultSpec().Validate(cur); err != nil {
		return strataerrors.NewCorruptMetadata("default spec", err)
	}

	seen := make(map[int64]bool, len(m.Snapshots))
	for _, s := range m.Snapshots {
		if seen[s.SnapshotID] {
			return corrupt("duplicate snapshot id %d", s.SnapshotID)
		}
		seen[s.SnapshotID] = true
		if s.ManifestList == "" {
			return corrupt("snapshot %d has no manifest list", s.SnapshotID)
		}
		if m.FormatVersion >= FormatV2 && s.SequenceNumber > m.LastSequenceNumber {
			return corrupt("snapshot %d sequence number %d above last-sequence-number %d", s.SnapshotID, s.SequenceNumber, m.LastSequenceNumber)
		}
	}
	if m.CurrentSnapshotID != nil && !seen[*m.CurrentSnapshotID] {
		return corrupt("current snapshot %d not found", *m.CurrentSnapshotID)
	}
	for _, name := range m.RefNames() {
		ref := m.Refs[name]
		if !seen[ref.SnapshotID] {
			return corrupt("ref %q points to missing snapshot %d", name, ref.SnapshotID)
		}
		if ref.Type != BranchRef && ref.Type != TagRef {
			return corrupt("ref %q has invalid type %q", name, ref.Type)
		}
	}
	if main, ok := m.Refs[MainBranch]; ok {
		if m.CurrentSnapshotID == nil || *m.CurrentSnapshotID != main.SnapshotID {
			return corrupt("main branch does not match current-snapshot-id")
		}
	}
	return nil
}

// sortedKeys is used to render properties deterministically in errors and
// tooling.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatProperties renders properties as k=v lines in key order.
func FormatProperties(props map[string]string) []string {
	out := make([]string, 0, len(props))
	for _, k := range sortedKeys(props) {
		out = append(out, k+"="+strconv.Quote(props[k]))
	}
	return out
}
