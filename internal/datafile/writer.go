package datafile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/arkilian/strata/internal/bloom"
	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/pkg/types"
)

// bloomFPR is the target false positive rate of written bloom filters.
const bloomFPR = 0.01

// WriteData writes rows as a data file at path. All rows must belong to
// the partition tuple.
func WriteData(ctx context.Context, store storage.ObjectStore, path string, sch *schema.Schema, spec *partition.Spec, tuple partition.Tuple, rows []types.Row, opts WriteOptions) (*manifest.DataFile, error) {
	return write(ctx, store, path, manifest.ContentData, sch, spec, tuple, rows, nil, opts)
}

// WritePositionDeletes writes a position delete file.
func WritePositionDeletes(ctx context.Context, store storage.ObjectStore, path string, spec *partition.Spec, tuple partition.Tuple, deletes []PositionDelete, opts WriteOptions) (*manifest.DataFile, error) {
	rows := make([]types.Row, len(deletes))
	for i, d := range deletes {
		rows[i] = types.Row{"file_path": d.Path, "pos": d.Pos}
	}
	opts.BloomColumns = nil
	return write(ctx, store, path, manifest.ContentPositionDeletes, PositionDeleteSchema, spec, tuple, rows, nil, opts)
}

// WriteEqualityDeletes writes an equality delete file. Each row holds the
// values of the equality columns; a data row whose equality columns match
// any of them is deleted.
func WriteEqualityDeletes(ctx context.Context, store storage.ObjectStore, path string, sch *schema.Schema, spec *partition.Spec, tuple partition.Tuple, equalityIDs []int, rows []types.Row, opts WriteOptions) (*manifest.DataFile, error) {
	if len(equalityIDs) == 0 {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "equality deletes need at least one equality column")
	}
	names := make([]string, len(equalityIDs))
	for i, id := range equalityIDs {
		f, ok := sch.FieldByID(id)
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("equality column %d not in schema", id))
		}
		names[i] = f.Name
	}
	projected, err := sch.Select(true, names...)
	if err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}
	return write(ctx, store, path, manifest.ContentEqualityDeletes, projected, spec, tuple, rows, equalityIDs, opts)
}

func write(ctx context.Context, store storage.ObjectStore, path string, content manifest.Content, sch *schema.Schema, spec *partition.Spec, tuple partition.Tuple, rows []types.Row, equalityIDs []int, opts WriteOptions) (*manifest.DataFile, error) {
	if len(rows) == 0 {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "cannot write an empty file")
	}
	if len(tuple) != len(spec.Fields) {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("partition tuple has %d values, spec has %d", len(tuple), len(spec.Fields)))
	}

	lits, err := coerceRows(sch, rows)
	if err != nil {
		return nil, err
	}
	data, err := encode(sch, lits, opts)
	if err != nil {
		return nil, err
	}
	sizes, err := columnSizes(sch, data)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, path, data); err != nil {
		return nil, fmt.Errorf("datafile: write %s: %w", path, err)
	}

	stats := collectStats(sch, lits, opts.BloomColumns)
	df := &manifest.DataFile{
		Content:         content,
		Path:            path,
		Format:          manifest.FormatParquet,
		SpecID:          spec.SpecID,
		Partition:       tuple,
		RecordCount:     int64(len(rows)),
		FileSizeBytes:   int64(len(data)),
		ColumnSizes:     sizes,
		ValueCounts:     stats.valueCounts,
		NullValueCounts: stats.nullCounts,
		NaNValueCounts:  stats.nanCounts,
		LowerBounds:     stats.lower,
		UpperBounds:     stats.upper,
		BloomFilters:    stats.blooms,
	}
	if len(equalityIDs) > 0 {
		df.EqualityIDs = append([]int(nil), equalityIDs...)
	}
	return df, nil
}

// coerceRows converts rows to literals in schema field order.
func coerceRows(sch *schema.Schema, rows []types.Row) ([][]types.Literal, error) {
	out := make([][]types.Literal, len(rows))
	for i, row := range rows {
		lits := make([]types.Literal, len(sch.Fields))
		for j, f := range sch.Fields {
			v, err := types.Coerce(f.Type, row[f.Name])
			if err != nil {
				return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
					fmt.Sprintf("row %d, column %q: %v", i, f.Name, err))
			}
			if v.IsNull() && f.Required {
				return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
					fmt.Sprintf("row %d: required column %q is null", i, f.Name))
			}
			lits[j] = v
		}
		out[i] = lits
	}
	return out, nil
}

func parquetSchema(sch *schema.Schema) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range sch.Fields {
		var node parquet.Node
		switch f.Type {
		case types.Boolean:
			node = parquet.Leaf(parquet.BooleanType)
		case types.Int:
			node = parquet.Int(32)
		case types.Long:
			node = parquet.Int(64)
		case types.Float:
			node = parquet.Leaf(parquet.FloatType)
		case types.Double:
			node = parquet.Leaf(parquet.DoubleType)
		case types.Date:
			node = parquet.Date()
		case types.Time:
			node = parquet.Time(parquet.Microsecond)
		case types.Timestamp, types.TimestampTz:
			node = parquet.Timestamp(parquet.Microsecond)
		case types.String:
			node = parquet.String()
		case types.Binary:
			node = parquet.Leaf(parquet.ByteArrayType)
		case types.UUID:
			node = parquet.UUID()
		default:
			return nil, fmt.Errorf("datafile: column %q has unsupported type %s", f.Name, f.Type)
		}
		if !f.Required {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	return parquet.NewSchema("table", group), nil
}

// columnIndexes maps each schema field to its Parquet leaf column. Group
// fields are laid out in name order, not schema order.
func columnIndexes(sch *schema.Schema, ps *parquet.Schema) map[string]int {
	out := make(map[string]int, len(sch.Fields))
	for i, f := range ps.Fields() {
		out[f.Name()] = i
	}
	return out
}

func encode(sch *schema.Schema, rows [][]types.Literal, opts WriteOptions) ([]byte, error) {
	ps, err := parquetSchema(sch)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return nil, fmt.Errorf("datafile: marshal schema: %w", err)
	}
	compression, err := compressionOption(opts.Compression)
	if err != nil {
		return nil, err
	}

	options := []parquet.WriterOption{
		ps,
		compression,
		parquet.KeyValueMetadata(schemaKey, string(schemaJSON)),
	}
	var filters []parquet.BloomFilterColumn
	for _, name := range opts.BloomColumns {
		if _, ok := sch.FieldByName(name, true); ok {
			filters = append(filters, parquet.SplitBlockFilter(10, name))
		}
	}
	if len(filters) > 0 {
		options = append(options, parquet.BloomFilters(filters...))
	}

	cols := columnIndexes(sch, ps)
	prows := make([]parquet.Row, len(rows))
	for i, lits := range rows {
		prow := make(parquet.Row, len(sch.Fields))
		for j, f := range sch.Fields {
			col := cols[f.Name]
			if lits[j].IsNull() {
				prow[col] = parquet.NullValue().Level(0, 0, col)
				continue
			}
			def := 1
			if f.Required {
				def = 0
			}
			prow[col] = toValue(lits[j]).Level(0, def, col)
		}
		prows[i] = prow
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, options...)
	if _, err := w.WriteRows(prows); err != nil {
		return nil, fmt.Errorf("datafile: write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("datafile: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func compressionOption(name string) (parquet.WriterOption, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "uncompressed", "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	}
	return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
		fmt.Sprintf("unknown compression codec %q", name))
}

func toValue(l types.Literal) parquet.Value {
	switch v := l.Value().(type) {
	case bool:
		return parquet.BooleanValue(v)
	case int32:
		return parquet.Int32Value(v)
	case int64:
		return parquet.Int64Value(v)
	case float32:
		return parquet.FloatValue(v)
	case float64:
		return parquet.DoubleValue(v)
	case string:
		return parquet.ByteArrayValue([]byte(v))
	case []byte:
		return parquet.ByteArrayValue(v)
	case uuid.UUID:
		return parquet.FixedLenByteArrayValue(v[:])
	}
	return parquet.NullValue()
}

// columnSizes reads the compressed size of every column chunk back from
// the encoded footer.
func columnSizes(sch *schema.Schema, data []byte) (map[int]int64, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("datafile: reopen written file: %w", err)
	}
	out := make(map[int]int64, len(sch.Fields))
	for _, rg := range f.Metadata().RowGroups {
		for _, cc := range rg.Columns {
			path := cc.MetaData.PathInSchema
			if len(path) == 0 {
				continue
			}
			if field, ok := sch.FieldByName(path[0], true); ok {
				out[field.ID] += cc.MetaData.TotalCompressedSize
			}
		}
	}
	return out, nil
}

type fileStats struct {
	valueCounts map[int]int64
	nullCounts  map[int]int64
	nanCounts   map[int]int64
	lower       map[int][]byte
	upper       map[int][]byte
	blooms      map[int][]byte
}

func collectStats(sch *schema.Schema, rows [][]types.Literal, bloomColumns []string) fileStats {
	st := fileStats{
		valueCounts: map[int]int64{},
		nullCounts:  map[int]int64{},
		nanCounts:   map[int]int64{},
		lower:       map[int][]byte{},
		upper:       map[int][]byte{},
	}
	wantBloom := map[string]bool{}
	for _, c := range bloomColumns {
		wantBloom[c] = true
	}

	for j, f := range sch.Fields {
		var lo, hi types.Literal
		var bf *bloom.Filter
		if wantBloom[f.Name] {
			bf = bloom.NewWithEstimates(max(len(rows), 1), bloomFPR)
		}
		for _, lits := range rows {
			v := lits[j]
			st.valueCounts[f.ID]++
			switch {
			case v.IsNull():
				st.nullCounts[f.ID]++
				continue
			case v.IsNaN():
				st.nanCounts[f.ID]++
				continue
			}
			if bf != nil {
				bf.AddLiteral(v)
			}
			if lo.IsNull() || types.Compare(v, lo) < 0 {
				lo = v
			}
			if hi.IsNull() || types.Compare(v, hi) > 0 {
				hi = v
			}
		}
		if !f.Type.IsFloating() {
			delete(st.nanCounts, f.ID)
		}
		if !lo.IsNull() {
			st.lower[f.ID] = types.ToBytes(lo)
			st.upper[f.ID] = types.ToBytes(hi)
		}
		if bf != nil && bf.Count() > 0 {
			if st.blooms == nil {
				st.blooms = map[int][]byte{}
			}
			st.blooms[f.ID] = bf.Encode()
		}
	}
	return st
}
