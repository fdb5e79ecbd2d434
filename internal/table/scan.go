package table

import (
	"context"
	"iter"

	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/pkg/types"
)

// NewScan plans a read of this table version.
func (t *Table) NewScan(opts planner.Options) (*planner.Scan, error) {
	opts.Table = t.ident.String()
	if opts.Recorder == nil {
		opts.Recorder = t.tables.recorder
	}
	return planner.NewScan(t.tables.store, t.md, opts)
}

// Scan reads the rows selected by opts.
func (t *Table) Scan(ctx context.Context, opts planner.Options) iter.Seq2[types.Row, error] {
	scan, err := t.NewScan(opts)
	if err != nil {
		return func(yield func(types.Row, error) bool) { yield(nil, err) }
	}
	return datafile.NewReader(t.tables.store).Scan(ctx, scan)
}

// ReadAll collects the rows selected by opts.
func (t *Table) ReadAll(ctx context.Context, opts planner.Options) ([]types.Row, error) {
	var rows []types.Row
	for row, err := range t.Scan(ctx, opts) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
