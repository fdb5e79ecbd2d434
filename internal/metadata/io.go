package metadata

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/storage"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)-[0-9a-fA-F-]{36}\.metadata\.json$`)

// FileName returns the name of the metadata file for a version.
func FileName(version int) string {
	return fmt.Sprintf("%05d-%s.metadata.json", version, uuid.New())
}

// ParseVersion extracts the version number from a metadata file location.
// It returns -1 when the name does not follow the versioned layout.
func ParseVersion(location string) int {
	m := fileNamePattern.FindStringSubmatch(path.Base(location))
	if m == nil {
		return -1
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return v
}

// NewLocation returns the location of the metadata version following
// previous, or version 0 when previous is empty.
func NewLocation(tableLocation, previous string) string {
	version := 0
	if previous != "" {
		version = ParseVersion(previous) + 1
		if version <= 0 {
			version = 1
		}
	}
	return path.Join(tableLocation, "metadata", FileName(version))
}

// Write encodes m and stores it at location. The write never replaces an
// existing object.
func Write(ctx context.Context, store storage.ObjectStore, location string, m *TableMetadata) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, location, data); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return strataerrors.NewStorageError(strataerrors.CodeAlreadyExists,
				fmt.Sprintf("metadata file %s already exists", location), err)
		}
		return strataerrors.NewStorageError(strataerrors.CodeUploadFailed,
			fmt.Sprintf("write metadata %s", location), err)
	}
	return nil
}

// Read loads and decodes the metadata file at location.
func Read(ctx context.Context, store storage.ObjectStore, location string) (*TableMetadata, error) {
	data, err := store.Get(ctx, location)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, strataerrors.NewStorageError(strataerrors.CodeObjectNotFound,
				fmt.Sprintf("metadata file %s not found", location), err)
		}
		return nil, strataerrors.NewStorageError(strataerrors.CodeDownloadFailed,
			fmt.Sprintf("read metadata %s", location), err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", location, err)
	}
	return m, nil
}
