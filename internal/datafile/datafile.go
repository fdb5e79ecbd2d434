// Package datafile reads and writes the Parquet files a table's manifests
// point at: data files, position delete files and equality delete files.
//
// Writers compute the column statistics the planner prunes with (value,
// null and NaN counts, lower and upper bounds in single-value encoding,
// compressed column sizes) and optional bloom filters. Every file records
// the schema it was written with, so readers resolve columns by field ID
// and survive renames, added columns and type promotion.
package datafile

import (
	"fmt"
	"strings"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

const (
	// PropCompressionCodec selects the Parquet compression codec.
	PropCompressionCodec = "write.parquet.compression-codec"

	// schemaKey is the Parquet key/value metadata entry holding the
	// writer's schema as JSON.
	schemaKey = "strata.schema"
)

// Field IDs of the position delete file columns.
const (
	FilePathFieldID = 2147483546
	PosFieldID      = 2147483545
)

// PositionDeleteSchema is the schema of position delete files.
var PositionDeleteSchema = schema.New(0,
	schema.Field{ID: FilePathFieldID, Name: "file_path", Required: true, Type: types.String},
	schema.Field{ID: PosFieldID, Name: "pos", Required: true, Type: types.Long},
)

// WriteOptions tune the physical layout of written files.
type WriteOptions struct {
	// BloomColumns names the columns that get a bloom filter.
	BloomColumns []string
	// Compression is one of snappy, zstd, gzip or uncompressed.
	Compression string
}

// OptionsFromProperties reads write options from table properties.
func OptionsFromProperties(props map[string]string) WriteOptions {
	var opts WriteOptions
	for _, c := range strings.Split(props[metadata.PropBloomFilterColumns], ",") {
		if c = strings.TrimSpace(c); c != "" {
			opts.BloomColumns = append(opts.BloomColumns, c)
		}
	}
	opts.Compression = props[PropCompressionCodec]
	return opts
}

// PositionDelete marks one row of a data file as deleted.
type PositionDelete struct {
	Path string
	Pos  int64
}

// Split groups rows by the partition tuple spec derives from them. Groups
// are returned in tuple key order.
func Split(sch *schema.Schema, spec *partition.Spec, rows []types.Row) ([]*partition.Group, error) {
	router, err := partition.NewRouter(spec, sch)
	if err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}
	groups, err := router.RouteRows(rows)
	if err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}
	return groups, nil
}

func checkFormat(f *manifest.DataFile) error {
	if f.Format != manifest.FormatParquet {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("%s: unsupported file format %s", f.Path, f.Format))
	}
	return nil
}
