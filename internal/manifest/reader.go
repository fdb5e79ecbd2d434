package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/pkg/types"
	"github.com/hamba/avro/v2/ocf"
)

// Manifest is a decoded manifest file.
type Manifest struct {
	Schema  *schema.Schema
	Spec    *partition.Spec
	Content ManifestContent
	Entries []Entry
}

// LiveEntries returns the entries whose files belong to the snapshot.
func (m *Manifest) LiveEntries() []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.IsLive() {
			out = append(out, e)
		}
	}
	return out
}

// Decode parses a manifest. Fields unknown to this reader are skipped and
// missing optional fields take their defaults, so manifests written by
// newer or older writers decode. Malformed input is CORRUPT_METADATA.
func Decode(data []byte) (*Manifest, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest: invalid container", err)
	}

	meta := dec.Metadata()
	m := &Manifest{Content: ManifestContentData}
	if string(meta["content"]) == "deletes" {
		m.Content = ManifestContentDeletes
	}

	m.Schema = &schema.Schema{}
	if err := json.Unmarshal(meta["schema"], m.Schema); err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest: invalid schema header", err)
	}
	specID := 0
	if raw, ok := meta["partition-spec-id"]; ok {
		if specID, err = strconv.Atoi(string(raw)); err != nil {
			return nil, strataerrors.NewCorruptMetadata("manifest: invalid partition-spec-id header", err)
		}
	}
	m.Spec = &partition.Spec{SpecID: specID, Fields: []partition.Field{}}
	if raw, ok := meta["partition-spec"]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Spec.Fields); err != nil {
			return nil, strataerrors.NewCorruptMetadata("manifest: invalid partition-spec header", err)
		}
	}
	partTypes, err := m.Spec.ResultTypes(m.Schema)
	if err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest: partition spec does not match schema", err)
	}
	positions := make(map[int]int, len(m.Spec.Fields))
	for i, f := range m.Spec.Fields {
		positions[f.FieldID] = i
	}

	for dec.HasNext() {
		var raw entryAvro
		if err := dec.Decode(&raw); err != nil {
			return nil, strataerrors.NewCorruptMetadata("manifest: decode entry", err)
		}
		e, err := fromAvro(raw, specID, partTypes, positions)
		if err != nil {
			return nil, strataerrors.NewCorruptMetadata("manifest: invalid entry", err)
		}
		m.Entries = append(m.Entries, e)
	}
	if err := dec.Error(); err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest: read container", err)
	}
	return m, nil
}

// Read loads the manifest named by mf and fills in inherited values:
// entries written without a snapshot ID or sequence numbers take them from
// the manifest list row.
func Read(ctx context.Context, store storage.ObjectStore, mf ManifestFile) (*Manifest, error) {
	data, err := store.Get(ctx, mf.Path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", mf.Path, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", mf.Path, err)
	}
	for i := range m.Entries {
		e := &m.Entries[i]
		if e.SnapshotID == 0 {
			e.SnapshotID = mf.AddedSnapshotID
		}
		if e.SequenceNumber < 0 {
			e.SequenceNumber = mf.SequenceNumber
		}
		if e.FileSequenceNumber < 0 {
			e.FileSequenceNumber = mf.SequenceNumber
		}
	}
	return m, nil
}

func fromAvro(raw entryAvro, specID int, partTypes []types.Type, positions map[int]int) (Entry, error) {
	df := raw.DataFile
	format := FileFormat(df.FileFormat)
	if !format.Valid() {
		return Entry{}, fmt.Errorf("unknown file format %q", df.FileFormat)
	}
	if df.FilePath == "" {
		return Entry{}, fmt.Errorf("empty file path")
	}
	status := EntryStatus(raw.Status)
	if status < StatusExisting || status > StatusDeleted {
		return Entry{}, fmt.Errorf("unknown entry status %d", raw.Status)
	}
	content := Content(df.Content)
	if content < ContentData || content > ContentEqualityDeletes {
		return Entry{}, fmt.Errorf("unknown content type %d", df.Content)
	}

	tuple := make(partition.Tuple, len(partTypes))
	for _, pv := range df.Partition {
		pos, ok := positions[pv.FieldID]
		if !ok {
			continue
		}
		v, err := types.FromBytes(partTypes[pos], pv.Value)
		if err != nil {
			return Entry{}, fmt.Errorf("partition field %d: %w", pv.FieldID, err)
		}
		tuple[pos] = v
	}

	e := Entry{
		Status:             status,
		SequenceNumber:     -1,
		FileSequenceNumber: -1,
		File: &DataFile{
			Content:         content,
			Path:            df.FilePath,
			Format:          format,
			SpecID:          specID,
			Partition:       tuple,
			RecordCount:     df.RecordCount,
			FileSizeBytes:   df.FileSizeBytes,
			ColumnSizes:     intLongKVToMap(df.ColumnSizes),
			ValueCounts:     intLongKVToMap(df.ValueCounts),
			NullValueCounts: intLongKVToMap(df.NullValueCounts),
			NaNValueCounts:  intLongKVToMap(df.NaNValueCounts),
			LowerBounds:     intBytesKVToMap(df.LowerBounds),
			UpperBounds:     intBytesKVToMap(df.UpperBounds),
			EqualityIDs:     df.EqualityIDs,
			SortOrderID:     df.SortOrderID,
			BloomFilters:    intBytesKVToMap(df.BloomFilters),
		},
	}
	if raw.SnapshotID != nil {
		e.SnapshotID = *raw.SnapshotID
	}
	if raw.SequenceNumber != nil {
		e.SequenceNumber = *raw.SequenceNumber
	}
	if raw.FileSequenceNumber != nil {
		e.FileSequenceNumber = *raw.FileSequenceNumber
	}
	return e, nil
}
