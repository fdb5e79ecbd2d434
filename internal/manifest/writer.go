package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/pkg/types"
	"github.com/hamba/avro/v2/ocf"
)

// Writer accumulates entries for one manifest. Every entry must belong to
// the writer's partition spec.
type Writer struct {
	spec       *partition.Spec
	schema     *schema.Schema
	content    ManifestContent
	snapshotID int64
	partTypes  []types.Type

	entries   []Entry
	summaries []summaryBuilder

	addedFiles, existingFiles, deletedFiles int32
	addedRows, existingRows, deletedRows    int64
	minSeq                                  int64
}

// NewWriter creates a manifest writer for files added by snapshotID.
func NewWriter(spec *partition.Spec, sch *schema.Schema, content ManifestContent, snapshotID int64) (*Writer, error) {
	partTypes, err := spec.ResultTypes(sch)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	summaries := make([]summaryBuilder, len(spec.Fields))
	for i := range summaries {
		summaries[i].typ = partTypes[i]
	}
	return &Writer{
		spec:       spec,
		schema:     sch,
		content:    content,
		snapshotID: snapshotID,
		partTypes:  partTypes,
		summaries:  summaries,
		minSeq:     -1,
	}, nil
}

// Add records a file added by the writer's snapshot at sequence number seq.
func (w *Writer) Add(f *DataFile, seq int64) error {
	return w.add(Entry{
		Status:             StatusAdded,
		SnapshotID:         w.snapshotID,
		SequenceNumber:     seq,
		FileSequenceNumber: seq,
		File:               f,
	})
}

// Existing carries a live entry forward from an earlier manifest.
func (w *Writer) Existing(e Entry) error {
	e.Status = StatusExisting
	return w.add(e)
}

// Delete records that the writer's snapshot removed the entry's file.
// Sequence numbers are kept so expiry can reason about the file's origin.
func (w *Writer) Delete(e Entry) error {
	e.Status = StatusDeleted
	e.SnapshotID = w.snapshotID
	return w.add(e)
}

func (w *Writer) add(e Entry) error {
	f := e.File
	if f == nil {
		return fmt.Errorf("manifest: entry has no file")
	}
	if f.SpecID != w.spec.SpecID {
		return fmt.Errorf("manifest: file %s has spec %d, writer has spec %d", f.Path, f.SpecID, w.spec.SpecID)
	}
	if (w.content == ManifestContentDeletes) != f.Content.IsDelete() {
		return fmt.Errorf("manifest: cannot write %s file %s to this manifest", f.Content, f.Path)
	}
	if len(f.Partition) != len(w.spec.Fields) {
		return fmt.Errorf("manifest: file %s has %d partition values, spec has %d", f.Path, len(f.Partition), len(w.spec.Fields))
	}

	for i := range w.summaries {
		w.summaries[i].update(f.Partition[i])
	}

	switch e.Status {
	case StatusAdded:
		w.addedFiles++
		w.addedRows += f.RecordCount
	case StatusExisting:
		w.existingFiles++
		w.existingRows += f.RecordCount
	case StatusDeleted:
		w.deletedFiles++
		w.deletedRows += f.RecordCount
	}
	if e.Status != StatusDeleted && (w.minSeq < 0 || e.SequenceNumber < w.minSeq) {
		w.minSeq = e.SequenceNumber
	}
	w.entries = append(w.entries, e)
	return nil
}

// Len returns the number of entries written so far.
func (w *Writer) Len() int { return len(w.entries) }

// Encode serializes the manifest. The returned ManifestFile has no Path;
// seq is the sequence number of the snapshot writing it.
func (w *Writer) Encode(seq int64) ([]byte, ManifestFile, error) {
	schemaJSON, err := json.Marshal(w.schema)
	if err != nil {
		return nil, ManifestFile{}, fmt.Errorf("manifest: marshal schema: %w", err)
	}
	specJSON, err := json.Marshal(w.spec.Fields)
	if err != nil {
		return nil, ManifestFile{}, fmt.Errorf("manifest: marshal partition spec: %w", err)
	}
	contentName := "data"
	if w.content == ManifestContentDeletes {
		contentName = "deletes"
	}

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(manifestEntrySchema, &buf,
		ocf.WithMetadata(map[string][]byte{
			"schema":            schemaJSON,
			"schema-id":         []byte(strconv.Itoa(w.schema.SchemaID)),
			"partition-spec":    specJSON,
			"partition-spec-id": []byte(strconv.Itoa(w.spec.SpecID)),
			"format-version":    []byte("2"),
			"content":           []byte(contentName),
		}),
		ocf.WithCodec(ocf.Deflate),
	)
	if err != nil {
		return nil, ManifestFile{}, fmt.Errorf("manifest: create encoder: %w", err)
	}

	for _, e := range w.entries {
		if err := enc.Encode(w.toAvro(e)); err != nil {
			return nil, ManifestFile{}, fmt.Errorf("manifest: encode entry: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, ManifestFile{}, fmt.Errorf("manifest: close encoder: %w", err)
	}

	minSeq := w.minSeq
	if minSeq < 0 {
		minSeq = seq
	}
	partitions := make([]FieldSummary, len(w.summaries))
	for i := range w.summaries {
		partitions[i] = w.summaries[i].build()
	}
	return buf.Bytes(), ManifestFile{
		Length:             int64(buf.Len()),
		SpecID:             w.spec.SpecID,
		Content:            w.content,
		SequenceNumber:     seq,
		MinSequenceNumber:  minSeq,
		AddedSnapshotID:    w.snapshotID,
		AddedFilesCount:    w.addedFiles,
		ExistingFilesCount: w.existingFiles,
		DeletedFilesCount:  w.deletedFiles,
		AddedRowsCount:     w.addedRows,
		ExistingRowsCount:  w.existingRows,
		DeletedRowsCount:   w.deletedRows,
		Partitions:         partitions,
	}, nil
}

// Write encodes the manifest and stores it at path as a new object.
func (w *Writer) Write(ctx context.Context, store storage.ObjectStore, path string, seq int64) (ManifestFile, error) {
	data, mf, err := w.Encode(seq)
	if err != nil {
		return ManifestFile{}, err
	}
	if err := store.Put(ctx, path, data); err != nil {
		return ManifestFile{}, fmt.Errorf("manifest: write %s: %w", path, err)
	}
	mf.Path = path
	return mf, nil
}

func (w *Writer) toAvro(e Entry) entryAvro {
	f := e.File
	snapID, seq, fileSeq := e.SnapshotID, e.SequenceNumber, e.FileSequenceNumber
	part := make([]partitionValue, len(w.spec.Fields))
	for i, pf := range w.spec.Fields {
		pv := partitionValue{FieldID: pf.FieldID}
		if !f.Partition[i].IsNull() {
			pv.Value = types.ToBytes(f.Partition[i])
		}
		part[i] = pv
	}
	var eqIDs []int
	if len(f.EqualityIDs) > 0 {
		eqIDs = append([]int(nil), f.EqualityIDs...)
	}
	return entryAvro{
		Status:             int(e.Status),
		SnapshotID:         &snapID,
		SequenceNumber:     &seq,
		FileSequenceNumber: &fileSeq,
		DataFile: dataFileAvro{
			Content:         int(f.Content),
			FilePath:        f.Path,
			FileFormat:      string(f.Format),
			Partition:       part,
			RecordCount:     f.RecordCount,
			FileSizeBytes:   f.FileSizeBytes,
			ColumnSizes:     mapToIntLongKV(f.ColumnSizes),
			ValueCounts:     mapToIntLongKV(f.ValueCounts),
			NullValueCounts: mapToIntLongKV(f.NullValueCounts),
			NaNValueCounts:  mapToIntLongKV(f.NaNValueCounts),
			LowerBounds:     mapToIntBytesKV(f.LowerBounds),
			UpperBounds:     mapToIntBytesKV(f.UpperBounds),
			EqualityIDs:     eqIDs,
			SortOrderID:     f.SortOrderID,
			BloomFilters:    mapToIntBytesKV(f.BloomFilters),
		},
	}
}

// summaryBuilder tracks bounds for one partition field.
type summaryBuilder struct {
	typ          types.Type
	containsNull bool
	containsNaN  bool
	lower, upper types.Literal
}

func (s *summaryBuilder) update(v types.Literal) {
	switch {
	case v.IsNull():
		s.containsNull = true
		return
	case v.IsNaN():
		s.containsNaN = true
		return
	}
	if s.lower.IsNull() || types.Compare(v, s.lower) < 0 {
		s.lower = v
	}
	if s.upper.IsNull() || types.Compare(v, s.upper) > 0 {
		s.upper = v
	}
}

func (s *summaryBuilder) build() FieldSummary {
	out := FieldSummary{ContainsNull: s.containsNull}
	if s.typ.IsFloating() {
		nan := s.containsNaN
		out.ContainsNaN = &nan
	}
	if !s.lower.IsNull() {
		out.LowerBound = types.ToBytes(s.lower)
		out.UpperBound = types.ToBytes(s.upper)
	}
	return out
}
