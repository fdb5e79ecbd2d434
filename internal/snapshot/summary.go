package snapshot

import (
	"strconv"

	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
)

// Summary property keys.
const (
	AddedDataFiles     = "added-data-files"
	DeletedDataFiles   = "deleted-data-files"
	AddedDeleteFiles   = "added-delete-files"
	RemovedDeleteFiles = "removed-delete-files"
	AddedRecords       = "added-records"
	DeletedRecords     = "deleted-records"
	AddedFileSize      = "added-files-size"
	RemovedFileSize    = "removed-files-size"
	AddedPosDeletes    = "added-position-deletes"
	AddedEqDeletes     = "added-equality-deletes"
	ChangedPartitions  = "changed-partition-count"
	TotalDataFiles     = "total-data-files"
	TotalDeleteFiles   = "total-delete-files"
	TotalRecords       = "total-records"
	TotalFileSize      = "total-files-size"
	TotalPosDeletes    = "total-position-deletes"
	TotalEqDeletes     = "total-equality-deletes"
)

type summaryBuilder struct {
	counts     map[string]int64
	partitions map[string]bool
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{counts: map[string]int64{}, partitions: map[string]bool{}}
}

func (s *summaryBuilder) added(f *manifest.DataFile) {
	s.partitions[partitionKey(f)] = true
	s.counts[AddedFileSize] += f.FileSizeBytes
	switch f.Content {
	case manifest.ContentData:
		s.counts[AddedDataFiles]++
		s.counts[AddedRecords] += f.RecordCount
	case manifest.ContentPositionDeletes:
		s.counts[AddedDeleteFiles]++
		s.counts[AddedPosDeletes] += f.RecordCount
	case manifest.ContentEqualityDeletes:
		s.counts[AddedDeleteFiles]++
		s.counts[AddedEqDeletes] += f.RecordCount
	}
}

func (s *summaryBuilder) removed(f *manifest.DataFile) {
	s.partitions[partitionKey(f)] = true
	s.counts[RemovedFileSize] += f.FileSizeBytes
	switch f.Content {
	case manifest.ContentData:
		s.counts[DeletedDataFiles]++
		s.counts[DeletedRecords] += f.RecordCount
	case manifest.ContentPositionDeletes:
		s.counts[RemovedDeleteFiles]++
		s.counts["removed-position-deletes"] += f.RecordCount
	case manifest.ContentEqualityDeletes:
		s.counts[RemovedDeleteFiles]++
		s.counts["removed-equality-deletes"] += f.RecordCount
	}
}

func partitionKey(f *manifest.DataFile) string {
	return strconv.Itoa(f.SpecID) + "|" + f.Partition.Key()
}

// build renders the summary. Totals carry forward from the parent.
func (s *summaryBuilder) build(op metadata.Operation, parent *metadata.Snapshot, extra map[string]string) *metadata.Summary {
	props := make(map[string]string, len(s.counts)+8)
	for k, v := range extra {
		props[k] = v
	}
	for k, v := range s.counts {
		if v != 0 {
			props[k] = strconv.FormatInt(v, 10)
		}
	}
	props[ChangedPartitions] = strconv.Itoa(len(s.partitions))

	var ps *metadata.Summary
	if parent != nil {
		ps = parent.Summary
	}
	total := func(key string, delta int64) {
		v := ps.Int(key) + delta
		if v < 0 {
			v = 0
		}
		props[key] = strconv.FormatInt(v, 10)
	}
	total(TotalDataFiles, s.counts[AddedDataFiles]-s.counts[DeletedDataFiles])
	total(TotalDeleteFiles, s.counts[AddedDeleteFiles]-s.counts[RemovedDeleteFiles])
	total(TotalRecords, s.counts[AddedRecords]-s.counts[DeletedRecords])
	total(TotalFileSize, s.counts[AddedFileSize]-s.counts[RemovedFileSize])
	total(TotalPosDeletes, s.counts[AddedPosDeletes]-s.counts["removed-position-deletes"])
	total(TotalEqDeletes, s.counts[AddedEqDeletes]-s.counts["removed-equality-deletes"])

	return &metadata.Summary{Operation: op, Properties: props}
}
