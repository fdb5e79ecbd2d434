// Package manifest implements the manifest and manifest list codec. A
// manifest is an Avro object container file listing data or delete files
// with their partition tuple and column statistics; a manifest list is an
// Avro file naming the manifests of one snapshot with per-partition-field
// summaries used for pruning.
package manifest

import (
	"fmt"

	"github.com/arkilian/strata/internal/bloom"
	"github.com/arkilian/strata/internal/partition"
)

// Content identifies what a file holds.
type Content int

const (
	ContentData            Content = 0
	ContentPositionDeletes Content = 1
	ContentEqualityDeletes Content = 2
)

func (c Content) String() string {
	switch c {
	case ContentData:
		return "data"
	case ContentPositionDeletes:
		return "position-deletes"
	case ContentEqualityDeletes:
		return "equality-deletes"
	}
	return fmt.Sprintf("content(%d)", int(c))
}

// IsDelete reports whether c is a delete file content type.
func (c Content) IsDelete() bool {
	return c == ContentPositionDeletes || c == ContentEqualityDeletes
}

// FileFormat is the physical format of a data file.
type FileFormat string

const (
	FormatParquet FileFormat = "PARQUET"
	FormatORC     FileFormat = "ORC"
	FormatAvro    FileFormat = "AVRO"
)

// Valid reports whether f is a known format.
func (f FileFormat) Valid() bool {
	switch f {
	case FormatParquet, FormatORC, FormatAvro:
		return true
	}
	return false
}

// EntryStatus tracks a file's state within a snapshot.
type EntryStatus int

const (
	StatusExisting EntryStatus = 0
	StatusAdded    EntryStatus = 1
	StatusDeleted  EntryStatus = 2
)

func (s EntryStatus) String() string {
	switch s {
	case StatusExisting:
		return "EXISTING"
	case StatusAdded:
		return "ADDED"
	case StatusDeleted:
		return "DELETED"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// DataFile describes one immutable file and its statistics. Maps are keyed
// by column field ID. Bounds use the single-value binary serialization.
type DataFile struct {
	Content         Content
	Path            string
	Format          FileFormat
	SpecID          int
	Partition       partition.Tuple
	RecordCount     int64
	FileSizeBytes   int64
	ColumnSizes     map[int]int64
	ValueCounts     map[int]int64
	NullValueCounts map[int]int64
	NaNValueCounts  map[int]int64
	LowerBounds     map[int][]byte
	UpperBounds     map[int][]byte
	EqualityIDs     []int
	SortOrderID     *int
	// BloomFilters holds encoded bloom.Filter values for selected columns.
	BloomFilters map[int][]byte
}

// BloomFilter decodes the bloom filter for a column, if one was written.
func (f *DataFile) BloomFilter(fieldID int) (*bloom.Filter, bool, error) {
	raw, ok := f.BloomFilters[fieldID]
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}
	bf, err := bloom.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return bf, true, nil
}

// Entry is one row of a manifest. SequenceNumber is the data sequence
// number used for delete application; FileSequenceNumber is the sequence
// number of the snapshot that added the file.
type Entry struct {
	Status             EntryStatus
	SnapshotID         int64
	SequenceNumber     int64
	FileSequenceNumber int64
	File               *DataFile
}

// IsLive reports whether the entry's file belongs to the snapshot.
func (e Entry) IsLive() bool { return e.Status != StatusDeleted }

// ManifestContent distinguishes data manifests from delete manifests.
type ManifestContent int

const (
	ManifestContentData    ManifestContent = 0
	ManifestContentDeletes ManifestContent = 1
)

// FieldSummary summarizes one partition field across a manifest.
type FieldSummary struct {
	ContainsNull bool
	ContainsNaN  *bool
	LowerBound   []byte
	UpperBound   []byte
}

// ManifestFile is one row of a manifest list.
type ManifestFile struct {
	Path               string
	Length             int64
	SpecID             int
	Content            ManifestContent
	SequenceNumber     int64
	MinSequenceNumber  int64
	AddedSnapshotID    int64
	AddedFilesCount    int32
	ExistingFilesCount int32
	DeletedFilesCount  int32
	AddedRowsCount     int64
	ExistingRowsCount  int64
	DeletedRowsCount   int64
	Partitions         []FieldSummary
}

// HasAddedFiles reports whether the manifest may contain ADDED entries.
func (m ManifestFile) HasAddedFiles() bool { return m.AddedFilesCount > 0 }

// HasExistingFiles reports whether the manifest may contain EXISTING entries.
func (m ManifestFile) HasExistingFiles() bool { return m.ExistingFilesCount > 0 }

// HasLiveFiles reports whether any entry in the manifest is not deleted.
func (m ManifestFile) HasLiveFiles() bool {
	return m.AddedFilesCount > 0 || m.ExistingFilesCount > 0
}
