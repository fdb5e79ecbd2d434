package table

import (
	"context"
	"fmt"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
)

// UpdateSchema evolves the current schema. fn is called on every commit
// attempt with an update started from that attempt's base. Columns that
// the default partition spec is derived from cannot be dropped.
func (t *Table) UpdateSchema(ctx context.Context, fn func(*schema.Update) error) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		u := schema.NewUpdate(base.CurrentSchema(), base.LastColumnID).
			Protect("partition source", base.DefaultSpec().SourceIDs()...)
		if err := fn(u); err != nil {
			return nil, err
		}
		sch, lastColumnID, err := u.Apply()
		if err != nil {
			return nil, err
		}
		return builder(base).SetCurrentSchema(sch, lastColumnID), nil
	})
}

// SpecField describes one field of a new partition spec by source column
// name.
type SpecField struct {
	Source    string
	Transform partition.Transform
	// Name defaults to the source name for identity and to
	// source_transform otherwise.
	Name string
}

// UpdateSpec makes a new partition spec the default. Existing files keep
// the spec they were written with. Fields matching a field of an earlier
// spec reuse its ID.
func (t *Table) UpdateSpec(ctx context.Context, fields []SpecField) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		spec, err := resolveSpec(base, fields)
		if err != nil {
			return nil, err
		}
		return builder(base).SetDefaultSpec(spec), nil
	})
}

func resolveSpec(base *metadata.TableMetadata, fields []SpecField) (*partition.Spec, error) {
	sch := base.CurrentSchema()
	next := base.LastPartitionID + 1
	spec := &partition.Spec{Fields: make([]partition.Field, 0, len(fields))}
	for _, sf := range fields {
		src, ok := sch.FieldByName(sf.Source, true)
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("partition source column %q not found", sf.Source))
		}
		name := sf.Name
		if name == "" {
			name = partition.DefaultFieldName(src.Name, sf.Transform)
		}
		id := -1
		for _, existing := range base.Specs {
			for _, f := range existing.Fields {
				if f.SourceID == src.ID && f.Transform == sf.Transform {
					id = f.FieldID
				}
			}
		}
		if id < 0 {
			id = next
			next++
		}
		spec.Fields = append(spec.Fields, partition.Field{SourceID: src.ID, FieldID: id, Name: name, Transform: sf.Transform})
	}
	return spec, nil
}

// SetProperties sets table properties.
func (t *Table) SetProperties(ctx context.Context, props map[string]string) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		return metadata.BuildFrom(base).SetProperties(props), nil
	})
}

// RemoveProperties removes table properties.
func (t *Table) RemoveProperties(ctx context.Context, keys ...string) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		return metadata.BuildFrom(base).RemoveProperties(keys...), nil
	})
}

// UpgradeFormatVersion raises the table's format version.
func (t *Table) UpgradeFormatVersion(ctx context.Context, version int) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		return metadata.BuildFrom(base).UpgradeFormatVersion(version), nil
	})
}
