package manifest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/storage"
	"github.com/hamba/avro/v2/ocf"
)

// EncodeList serializes the manifest list of a snapshot.
func EncodeList(manifests []ManifestFile, snapshotID int64, parentID *int64, seq int64) ([]byte, error) {
	meta := map[string][]byte{
		"snapshot-id":     []byte(strconv.FormatInt(snapshotID, 10)),
		"sequence-number": []byte(strconv.FormatInt(seq, 10)),
		"format-version":  []byte("2"),
	}
	if parentID != nil {
		meta["parent-snapshot-id"] = []byte(strconv.FormatInt(*parentID, 10))
	} else {
		meta["parent-snapshot-id"] = []byte("null")
	}

	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(manifestListSchema, &buf,
		ocf.WithMetadata(meta),
		ocf.WithCodec(ocf.Deflate),
	)
	if err != nil {
		return nil, fmt.Errorf("manifest list: create encoder: %w", err)
	}

	for _, mf := range manifests {
		if err := enc.Encode(manifestFileToAvro(mf)); err != nil {
			return nil, fmt.Errorf("manifest list: encode entry: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest list: close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeList parses a manifest list.
func DecodeList(data []byte) ([]ManifestFile, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest list: invalid container", err)
	}
	var out []ManifestFile
	for dec.HasNext() {
		var raw manifestFileAvro
		if err := dec.Decode(&raw); err != nil {
			return nil, strataerrors.NewCorruptMetadata("manifest list: decode entry", err)
		}
		if raw.Path == "" {
			return nil, strataerrors.NewCorruptMetadata("manifest list: entry without path", nil)
		}
		out = append(out, manifestFileFromAvro(raw))
	}
	if err := dec.Error(); err != nil {
		return nil, strataerrors.NewCorruptMetadata("manifest list: read container", err)
	}
	return out, nil
}

// WriteList encodes and stores a manifest list as a new object.
func WriteList(ctx context.Context, store storage.ObjectStore, path string, manifests []ManifestFile, snapshotID int64, parentID *int64, seq int64) error {
	data, err := EncodeList(manifests, snapshotID, parentID, seq)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, path, data); err != nil {
		return fmt.Errorf("manifest list: write %s: %w", path, err)
	}
	return nil
}

// ReadList loads a manifest list.
func ReadList(ctx context.Context, store storage.ObjectStore, path string) ([]ManifestFile, error) {
	data, err := store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("manifest list: read %s: %w", path, err)
	}
	list, err := DecodeList(data)
	if err != nil {
		return nil, fmt.Errorf("manifest list %s: %w", path, err)
	}
	return list, nil
}

func manifestFileToAvro(mf ManifestFile) manifestFileAvro {
	var parts []summaryAvro
	if mf.Partitions != nil {
		parts = make([]summaryAvro, len(mf.Partitions))
		for i, p := range mf.Partitions {
			parts[i] = summaryAvro{
				ContainsNull: p.ContainsNull,
				ContainsNaN:  p.ContainsNaN,
				LowerBound:   p.LowerBound,
				UpperBound:   p.UpperBound,
			}
		}
	}
	return manifestFileAvro{
		Path:               mf.Path,
		Length:             mf.Length,
		SpecID:             mf.SpecID,
		Content:            int(mf.Content),
		SequenceNumber:     mf.SequenceNumber,
		MinSequenceNumber:  mf.MinSequenceNumber,
		AddedSnapshotID:    mf.AddedSnapshotID,
		AddedFilesCount:    mf.AddedFilesCount,
		ExistingFilesCount: mf.ExistingFilesCount,
		DeletedFilesCount:  mf.DeletedFilesCount,
		AddedRowsCount:     mf.AddedRowsCount,
		ExistingRowsCount:  mf.ExistingRowsCount,
		DeletedRowsCount:   mf.DeletedRowsCount,
		Partitions:         parts,
	}
}

func manifestFileFromAvro(raw manifestFileAvro) ManifestFile {
	var parts []FieldSummary
	if raw.Partitions != nil {
		parts = make([]FieldSummary, len(raw.Partitions))
		for i, p := range raw.Partitions {
			parts[i] = FieldSummary{
				ContainsNull: p.ContainsNull,
				ContainsNaN:  p.ContainsNaN,
				LowerBound:   p.LowerBound,
				UpperBound:   p.UpperBound,
			}
		}
	}
	return ManifestFile{
		Path:               raw.Path,
		Length:             raw.Length,
		SpecID:             raw.SpecID,
		Content:            ManifestContent(raw.Content),
		SequenceNumber:     raw.SequenceNumber,
		MinSequenceNumber:  raw.MinSequenceNumber,
		AddedSnapshotID:    raw.AddedSnapshotID,
		AddedFilesCount:    raw.AddedFilesCount,
		ExistingFilesCount: raw.ExistingFilesCount,
		DeletedFilesCount:  raw.DeletedFilesCount,
		AddedRowsCount:     raw.AddedRowsCount,
		ExistingRowsCount:  raw.ExistingRowsCount,
		DeletedRowsCount:   raw.DeletedRowsCount,
		Partitions:         parts,
	}
}
