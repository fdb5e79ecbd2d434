package table

import (
	"context"
	"fmt"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/metadata"
)

func resolveTarget(base *metadata.TableMetadata, snapshotID *int64) (int64, error) {
	if snapshotID != nil {
		if _, ok := base.SnapshotByID(*snapshotID); !ok {
			return 0, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("snapshot %d not found", *snapshotID))
		}
		return *snapshotID, nil
	}
	cur := base.CurrentSnapshot()
	if cur == nil {
		return 0, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "table has no snapshots")
	}
	return cur.SnapshotID, nil
}

func (t *Table) setRef(ctx context.Context, name string, typ metadata.RefType, snapshotID *int64) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		if _, exists := base.Refs[name]; exists {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("ref %q already exists", name))
		}
		id, err := resolveTarget(base, snapshotID)
		if err != nil {
			return nil, err
		}
		return metadata.BuildFrom(base).SetRef(name, metadata.SnapshotRef{SnapshotID: id, Type: typ}), nil
	})
}

// CreateBranch creates a branch at snapshotID, or at the head of main when
// snapshotID is nil.
func (t *Table) CreateBranch(ctx context.Context, name string, snapshotID *int64) (*Table, error) {
	return t.setRef(ctx, name, metadata.BranchRef, snapshotID)
}

// CreateTag creates a tag at snapshotID, or at the head of main when
// snapshotID is nil.
func (t *Table) CreateTag(ctx context.Context, name string, snapshotID *int64) (*Table, error) {
	return t.setRef(ctx, name, metadata.TagRef, snapshotID)
}

// RemoveRef removes a branch or tag.
func (t *Table) RemoveRef(ctx context.Context, name string) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		return metadata.BuildFrom(base).RemoveRef(name), nil
	})
}

// FastForward moves branch to the head of from. The head of branch must be
// an ancestor of the head of from.
func (t *Table) FastForward(ctx context.Context, branch, from string) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		target, err := branchHead(base, branch)
		if err != nil {
			return nil, err
		}
		source, ok := base.SnapshotByRef(from)
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeRefNotFound, fmt.Sprintf("ref %q not found", from))
		}
		if target != nil && !base.IsAncestor(source.SnapshotID, target.SnapshotID) {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("cannot fast-forward %s: its head is not an ancestor of %s", branch, from))
		}
		return metadata.BuildFrom(base).SetBranchSnapshot(branch, source.SnapshotID), nil
	})
}

// Rollback moves main back to snapshotID, which must be an ancestor of the
// current head. Later snapshots stay in the metadata until expired.
func (t *Table) Rollback(ctx context.Context, snapshotID int64) (*Table, error) {
	return t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		cur := base.CurrentSnapshot()
		if cur == nil || !base.IsAncestor(cur.SnapshotID, snapshotID) {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("snapshot %d is not an ancestor of the current snapshot", snapshotID))
		}
		return metadata.BuildFrom(base).SetBranchSnapshot(metadata.MainBranch, snapshotID), nil
	})
}

// RollbackTo moves main back to the snapshot that was current at tsMs.
func (t *Table) RollbackTo(ctx context.Context, tsMs int64) (*Table, error) {
	s, ok := t.md.SnapshotAsOf(tsMs)
	if !ok {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("no snapshot as of %d", tsMs))
	}
	return t.Rollback(ctx, s.SnapshotID)
}
