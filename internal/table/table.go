// Package table is the entry point for working with tables: creating and
// loading them through a catalog, writing rows and files, evolving schema
// and partitioning, managing branches and tags, expiring history and
// scanning.
//
// A Table is an immutable view of one metadata version. Every write goes
// through the optimistic commit loop and returns a new Table; the old
// value keeps reading the version it was loaded at.
package table

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/commit"
	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
)

// Tables creates and loads tables under one warehouse.
type Tables struct {
	committer *commit.Committer
	store     storage.ObjectStore
	warehouse string
	logger    zerolog.Logger
	recorder  planner.PredicateRecorder
	now       func() time.Time
}

// Option configures Tables.
type Option func(*Tables)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(t *Tables) { t.logger = l } }

// WithPredicateRecorder records the predicates of every scan.
func WithPredicateRecorder(r planner.PredicateRecorder) Option {
	return func(t *Tables) { t.recorder = r }
}

// WithClock overrides the clock used for snapshot timestamps and expiry.
func WithClock(now func() time.Time) Option { return func(t *Tables) { t.now = now } }

// New creates a Tables rooted at warehouse.
func New(committer *commit.Committer, warehouse string, opts ...Option) *Tables {
	t := &Tables{
		committer: committer,
		store:     committer.Store(),
		warehouse: warehouse,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the object store tables live in.
func (ts *Tables) Store() storage.ObjectStore { return ts.store }

// Create creates a table at the default location for id. Field IDs of sch
// and spec are reassigned.
func (ts *Tables) Create(ctx context.Context, id catalog.Identifier, sch *schema.Schema, spec *partition.Spec, props map[string]string) (*Table, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	md, err := metadata.NewTable(id.Location(ts.warehouse), sch, spec, props)
	if err != nil {
		return nil, err
	}
	res, err := ts.committer.Create(ctx, id, md)
	if err != nil {
		return nil, err
	}
	return ts.wrap(id, res.Location, res.Metadata), nil
}

// Load loads the current version of a table.
func (ts *Tables) Load(ctx context.Context, id catalog.Identifier) (*Table, error) {
	loc, md, err := ts.committer.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return ts.wrap(id, loc, md), nil
}

// Exists reports whether a table is registered.
func (ts *Tables) Exists(ctx context.Context, id catalog.Identifier) (bool, error) {
	return ts.committer.Catalog().TableExists(ctx, id)
}

// List lists the tables of a namespace.
func (ts *Tables) List(ctx context.Context, namespace string) ([]catalog.Identifier, error) {
	return ts.committer.Catalog().ListTables(ctx, namespace)
}

// Drop removes a table from the catalog. Its files are left in place.
func (ts *Tables) Drop(ctx context.Context, id catalog.Identifier) error {
	if err := ts.committer.Catalog().DropTable(ctx, id); err != nil {
		return err
	}
	ts.logger.Info().Str("table", id.String()).Msg("table dropped")
	return nil
}

func (ts *Tables) wrap(id catalog.Identifier, loc string, md *metadata.TableMetadata) *Table {
	return &Table{tables: ts, ident: id, location: loc, md: md}
}

// Table is one version of a table.
type Table struct {
	tables   *Tables
	ident    catalog.Identifier
	location string
	md       *metadata.TableMetadata
}

// Identifier returns the table's catalog name.
func (t *Table) Identifier() catalog.Identifier { return t.ident }

// MetadataLocation returns the metadata file this version was read from.
func (t *Table) MetadataLocation() string { return t.location }

// Metadata returns the table metadata. Callers must not modify it.
func (t *Table) Metadata() *metadata.TableMetadata { return t.md }

// Schema returns the current schema.
func (t *Table) Schema() *schema.Schema { return t.md.CurrentSchema() }

// Spec returns the default partition spec.
func (t *Table) Spec() *partition.Spec { return t.md.DefaultSpec() }

// CurrentSnapshot returns the head of main, nil for an empty table.
func (t *Table) CurrentSnapshot() *metadata.Snapshot { return t.md.CurrentSnapshot() }

// Refresh loads the latest version.
func (t *Table) Refresh(ctx context.Context) (*Table, error) {
	return t.tables.Load(ctx, t.ident)
}

func (t *Table) writeOptions() datafile.WriteOptions {
	return datafile.OptionsFromProperties(t.md.Properties)
}

// commit runs update through the commit loop and wraps the result.
func (t *Table) commit(ctx context.Context, update commit.UpdateFunc) (*Table, error) {
	res, err := t.tables.committer.Commit(ctx, t.ident, update)
	if err != nil {
		return nil, err
	}
	return t.tables.wrap(t.ident, res.Location, res.Metadata), nil
}

// builder starts a new version from base, upgrading v1 tables to v2 so
// writes can assign sequence numbers.
func builder(base *metadata.TableMetadata) *metadata.Builder {
	b := metadata.BuildFrom(base)
	if base.FormatVersion < metadata.FormatV2 {
		b.UpgradeFormatVersion(metadata.FormatV2)
	}
	return b
}
