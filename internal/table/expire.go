package table

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/arkilian/strata/internal/metadata"
)

// ExpireOptions select the snapshots to expire. Zero values fall back to
// the table properties history.expire.max-snapshot-age-ms and
// history.expire.min-snapshots-to-keep.
type ExpireOptions struct {
	// OlderThan expires snapshots created before it.
	OlderThan time.Time
	// RetainLast keeps at least this many ancestors of every branch head.
	RetainLast int
}

// ExpireResult describes a committed expiry. Before and After are the
// metadata versions on either side of the commit; maintenance.Cleanup
// deletes the files reachable only from Before.
type ExpireResult struct {
	Expired []int64
	Before  *metadata.TableMetadata
	After   *metadata.TableMetadata
}

// ExpireSnapshots removes old snapshots from the table metadata. Ref heads
// and the most recent ancestors of each branch are always kept. No files
// are deleted.
func (t *Table) ExpireSnapshots(ctx context.Context, opts ExpireOptions) (*Table, *ExpireResult, error) {
	res := &ExpireResult{}
	next, err := t.commit(ctx, func(_ context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		expired := expirable(base, opts, t.tables.now())
		if len(expired) == 0 {
			return nil, errNothingToCommit
		}
		res.Expired = expired
		res.Before = base
		return metadata.BuildFrom(base).RemoveSnapshots(expired...), nil
	})
	if err != nil {
		if errors.Is(err, errNothingToCommit) {
			cur, err := t.Refresh(ctx)
			if err != nil {
				return nil, nil, err
			}
			return cur, &ExpireResult{Before: cur.md, After: cur.md}, nil
		}
		return nil, nil, err
	}
	res.After = next.md
	t.tables.logger.Info().Str("table", t.ident.String()).Int("expired", len(res.Expired)).Msg("snapshots expired")
	return next, res, nil
}

// expirable returns the IDs of the snapshots of md that the retention
// rules do not keep, in ascending order.
func expirable(md *metadata.TableMetadata, opts ExpireOptions, now time.Time) []int64 {
	maxAge := md.PropertyInt(metadata.PropMaxSnapshotAgeMs, metadata.DefaultMaxSnapshotAgeMs)
	cutoff := now.UnixMilli() - maxAge
	if !opts.OlderThan.IsZero() {
		cutoff = opts.OlderThan.UnixMilli()
	}
	minKeep := int(md.PropertyInt(metadata.PropMinSnapshotsToKeep, metadata.DefaultMinSnapshotsToKeep))
	if opts.RetainLast > 0 {
		minKeep = opts.RetainLast
	}

	keep := map[int64]bool{}
	reachable := map[int64]bool{}
	for _, name := range md.RefNames() {
		ref := md.Refs[name]
		keep[ref.SnapshotID] = true
		if ref.Type != metadata.BranchRef {
			reachable[ref.SnapshotID] = true
			continue
		}
		refKeep, refCutoff := minKeep, cutoff
		if ref.MinSnapshotsToKeep != nil {
			refKeep = *ref.MinSnapshotsToKeep
		}
		if ref.MaxSnapshotAgeMs != nil && opts.OlderThan.IsZero() {
			refCutoff = now.UnixMilli() - *ref.MaxSnapshotAgeMs
		}
		n := 0
		for s := range md.Ancestors(ref.SnapshotID) {
			reachable[s.SnapshotID] = true
			if n < refKeep || s.TimestampMs >= refCutoff {
				keep[s.SnapshotID] = true
			}
			n++
		}
	}

	var out []int64
	for _, s := range md.Snapshots {
		if keep[s.SnapshotID] {
			continue
		}
		// Snapshots no ref reaches, such as those left behind by a
		// rollback, age out with the same cutoff.
		if !reachable[s.SnapshotID] && s.TimestampMs >= cutoff {
			continue
		}
		out = append(out, s.SnapshotID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
