package datafile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/pkg/types"
)

const readBatchSize = 256

// record is one decoded row: its position in the file and its values keyed
// by field ID.
type record struct {
	pos    int64
	values map[int]types.Literal
}

// Reader reads scan tasks from an object store.
type Reader struct {
	store storage.ObjectStore
}

// NewReader creates a reader.
func NewReader(store storage.ObjectStore) *Reader {
	return &Reader{store: store}
}

// Read yields the live rows of a task that satisfy its residual, keyed by
// the column names of sch and restricted to the columns of projection.
// Columns missing from the file read as null.
func (r *Reader) Read(ctx context.Context, task planner.FileScanTask, sch, projection *schema.Schema) iter.Seq2[types.Row, error] {
	return func(yield func(types.Row, error) bool) {
		if err := checkFormat(task.File); err != nil {
			yield(nil, err)
			return
		}
		filter, err := r.loadDeletes(ctx, task, sch)
		if err != nil {
			yield(nil, err)
			return
		}
		residual := expr.NewEvaluator(task.Residual)
		if projection == nil {
			projection = sch
		}

		for rec, err := range r.records(ctx, task.File.Path) {
			if err != nil {
				yield(nil, err)
				return
			}
			if filter.deleted(rec) {
				continue
			}
			row, err := toRow(sch, rec.values)
			if err != nil {
				yield(nil, err)
				return
			}
			if !residual.Eval(row) {
				continue
			}
			if len(projection.Fields) != len(sch.Fields) {
				projected := make(types.Row, len(projection.Fields))
				for _, f := range projection.Fields {
					projected[f.Name] = row[f.Name]
				}
				row = projected
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Scan reads every task of a planned scan in plan order.
func (r *Reader) Scan(ctx context.Context, scan *planner.Scan) iter.Seq2[types.Row, error] {
	return func(yield func(types.Row, error) bool) {
		for task, err := range scan.PlanFiles(ctx, nil) {
			if err != nil {
				yield(nil, err)
				return
			}
			for row, err := range r.Read(ctx, task, scan.Schema(), scan.Projection()) {
				if !yield(row, err) || err != nil {
					return
				}
			}
		}
	}
}

// Rows yields every row of a task's data file that its delete files do not
// remove, ignoring the residual. Compaction uses it to carry live rows.
func (r *Reader) Rows(ctx context.Context, task planner.FileScanTask, sch *schema.Schema) iter.Seq2[types.Row, error] {
	task.Residual = expr.AlwaysTrue
	return r.Read(ctx, task, sch, sch)
}

// Positions yields the positions of the live rows of a task's data file
// that match filter, a bound expression. Merge-on-read deletes write them
// to position delete files.
func (r *Reader) Positions(ctx context.Context, task planner.FileScanTask, sch *schema.Schema, filter expr.Expression) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		if err := checkFormat(task.File); err != nil {
			yield(0, err)
			return
		}
		deletes, err := r.loadDeletes(ctx, task, sch)
		if err != nil {
			yield(0, err)
			return
		}
		ev := expr.NewEvaluator(filter)
		for rec, err := range r.records(ctx, task.File.Path) {
			if err != nil {
				yield(0, err)
				return
			}
			if deletes.deleted(rec) {
				continue
			}
			row, err := toRow(sch, rec.values)
			if err != nil {
				yield(0, err)
				return
			}
			if ev.Eval(row) && !yield(rec.pos, nil) {
				return
			}
		}
	}
}

func toRow(sch *schema.Schema, values map[int]types.Literal) (types.Row, error) {
	row := make(types.Row, len(sch.Fields))
	for _, f := range sch.Fields {
		v, ok := values[f.ID]
		if !ok || v.IsNull() {
			row[f.Name] = nil
			continue
		}
		if v.Type() != f.Type {
			promoted, err := v.To(f.Type)
			if err != nil {
				return nil, strataerrors.NewSchemaIncompatible(fmt.Sprintf("column %q: %v", f.Name, err))
			}
			v = promoted
		}
		row[f.Name] = v.Value()
	}
	return row, nil
}

// records decodes a Parquet file written by this package.
func (r *Reader) records(ctx context.Context, path string) iter.Seq2[record, error] {
	return func(yield func(record, error) bool) {
		data, err := r.store.Get(ctx, path)
		if err != nil {
			yield(record{}, fmt.Errorf("datafile: read %s: %w", path, err))
			return
		}
		f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			yield(record{}, strataerrors.NewCorruptMetadata(fmt.Sprintf("open parquet file %s", path), err))
			return
		}
		fileSchema, err := writtenSchema(f, path)
		if err != nil {
			yield(record{}, err)
			return
		}

		columns := make([]schema.Field, len(f.Schema().Fields()))
		for i, pf := range f.Schema().Fields() {
			field, ok := fileSchema.FieldByName(pf.Name(), true)
			if !ok {
				yield(record{}, strataerrors.NewCorruptMetadata(
					fmt.Sprintf("%s: column %q missing from embedded schema", path, pf.Name()), nil))
				return
			}
			columns[i] = field
		}

		var pos int64
		buf := make([]parquet.Row, readBatchSize)
		for _, rg := range f.RowGroups() {
			rows := rg.Rows()
			for {
				if err := ctx.Err(); err != nil {
					rows.Close()
					yield(record{}, err)
					return
				}
				n, err := rows.ReadRows(buf)
				for _, prow := range buf[:n] {
					rec := record{pos: pos, values: make(map[int]types.Literal, len(columns))}
					pos++
					for _, v := range prow {
						col := v.Column()
						if col < 0 || col >= len(columns) || v.IsNull() {
							continue
						}
						rec.values[columns[col].ID] = fromValue(columns[col].Type, v)
					}
					if !yield(rec, nil) {
						rows.Close()
						return
					}
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					rows.Close()
					yield(record{}, fmt.Errorf("datafile: read rows of %s: %w", path, err))
					return
				}
			}
			rows.Close()
		}
	}
}

func writtenSchema(f *parquet.File, path string) (*schema.Schema, error) {
	raw, ok := f.Lookup(schemaKey)
	if !ok {
		return nil, strataerrors.NewCorruptMetadata(fmt.Sprintf("%s has no embedded schema", path), nil)
	}
	var sch schema.Schema
	if err := json.Unmarshal([]byte(raw), &sch); err != nil {
		return nil, strataerrors.NewCorruptMetadata(fmt.Sprintf("%s: decode embedded schema", path), err)
	}
	return &sch, nil
}

func fromValue(t types.Type, v parquet.Value) types.Literal {
	switch t {
	case types.Boolean:
		return types.BoolLiteral(v.Boolean())
	case types.Int:
		return types.IntLiteral(v.Int32())
	case types.Date:
		return types.DateLiteral(v.Int32())
	case types.Long:
		return types.LongLiteral(v.Int64())
	case types.Time:
		return types.TimeLiteral(v.Int64())
	case types.Timestamp:
		return types.TimestampLiteral(v.Int64())
	case types.TimestampTz:
		return types.TimestampTzLiteral(v.Int64())
	case types.Float:
		return types.FloatLiteral(v.Float())
	case types.Double:
		return types.DoubleLiteral(v.Double())
	case types.String:
		return types.StringLiteral(string(v.ByteArray()))
	case types.Binary:
		return types.BinaryLiteral(bytes.Clone(v.ByteArray()))
	case types.UUID:
		u, err := uuid.FromBytes(v.ByteArray())
		if err != nil {
			return types.Null
		}
		return types.UUIDLiteral(u)
	}
	return types.Null
}

// deleteFilter holds the deletes that apply to one data file.
type deleteFilter struct {
	schema    *schema.Schema
	positions map[int64]bool
	equality  []equalitySet
}

type equalitySet struct {
	ids  []int
	keys map[string]bool
}

func (d *deleteFilter) deleted(rec record) bool {
	if d.positions[rec.pos] {
		return true
	}
	for _, set := range d.equality {
		if set.keys[equalityKey(d.schema, set.ids, rec.values)] {
			return true
		}
	}
	return false
}

// equalityKey renders the equality columns of a record in the types of the
// current schema, so files written before a type promotion still match.
func equalityKey(sch *schema.Schema, ids []int, values map[int]types.Literal) string {
	t := make(partition.Tuple, len(ids))
	for i, id := range ids {
		v := values[id]
		if f, ok := sch.FieldByID(id); ok && !v.IsNull() {
			if promoted, err := v.To(f.Type); err == nil {
				v = promoted
			}
		}
		t[i] = v
	}
	return t.Key()
}

func (r *Reader) loadDeletes(ctx context.Context, task planner.FileScanTask, sch *schema.Schema) (*deleteFilter, error) {
	d := &deleteFilter{schema: sch, positions: map[int64]bool{}}
	for _, df := range task.Deletes {
		if err := checkFormat(df); err != nil {
			return nil, err
		}
		switch df.Content {
		case manifest.ContentPositionDeletes:
			for rec, err := range r.records(ctx, df.Path) {
				if err != nil {
					return nil, err
				}
				path := rec.values[FilePathFieldID]
				if path.IsNull() || path.Value().(string) != task.File.Path {
					continue
				}
				if pos, ok := rec.values[PosFieldID].Int64(); ok {
					d.positions[pos] = true
				}
			}
		case manifest.ContentEqualityDeletes:
			set := equalitySet{ids: df.EqualityIDs, keys: map[string]bool{}}
			for rec, err := range r.records(ctx, df.Path) {
				if err != nil {
					return nil, err
				}
				set.keys[equalityKey(sch, set.ids, rec.values)] = true
			}
			d.equality = append(d.equality, set)
		}
	}
	return d, nil
}
