package snapshot

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSnapshotID returns a random positive snapshot ID.
func NewSnapshotID() int64 {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[:8])
	lo := binary.BigEndian.Uint64(u[8:])
	id := int64((hi ^ lo) & (1<<63 - 1))
	if id == 0 {
		return 1
	}
	return id
}

// ManifestPath returns a fresh location for a manifest of a table.
func ManifestPath(tableLocation string) string {
	return path.Join(tableLocation, "metadata", ulid.Make().String()+"-m.avro")
}

// ManifestListPath returns a fresh location for a snapshot's manifest list.
// Each attempt gets a distinct name so a retried commit never collides
// with the files of a losing attempt.
func ManifestListPath(tableLocation string, snapshotID int64) string {
	return path.Join(tableLocation, "metadata", fmt.Sprintf("snap-%d-%s.avro", snapshotID, ulid.Make()))
}

// DataFilePath returns a fresh location for a data or delete file under a
// partition directory.
func DataFilePath(tableLocation, partitionPath, ext string) string {
	name := ulid.Make().String() + "." + ext
	if partitionPath == "" {
		return path.Join(tableLocation, "data", name)
	}
	return path.Join(tableLocation, "data", partitionPath, name)
}
