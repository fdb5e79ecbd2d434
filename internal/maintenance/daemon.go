package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/config"
	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/table"
)

// TableReport is the outcome of one maintenance pass over a table.
type TableReport struct {
	Table          catalog.Identifier
	Expired        int
	FilesDeleted   int
	FilesCompacted int
	BloomUpdated   bool
	OrphansRemoved int
	Err            error
}

// Daemon runs expiry, cleanup, compaction, bloom advice and orphan
// removal over every table of its namespaces on an interval.
type Daemon struct {
	cfg     config.MaintenanceConfig
	tables  *table.Tables
	cleaner *Cleaner
	compact *Compactor
	advisor *BloomAdvisor
	bp      *Backpressure
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a daemon. stats may be nil to disable bloom advice.
func NewDaemon(cfg config.MaintenanceConfig, tables *table.Tables, stats *observability.PredicateStats, logger zerolog.Logger) *Daemon {
	bp := NewBackpressure(DefaultBackpressureConfig())
	d := &Daemon{
		cfg:     cfg,
		tables:  tables,
		cleaner: NewCleaner(tables.Store(), 8, logger),
		compact: NewCompactor(tables.Store(), bp, logger),
		bp:      bp,
		logger:  logger,
		now:     time.Now,
	}
	if stats != nil {
		d.advisor = NewBloomAdvisor(stats, 0, 0, logger)
	}
	if len(d.cfg.Namespaces) == 0 {
		d.cfg.Namespaces = []string{"default"}
	}
	return d
}

// Start runs passes until ctx is cancelled or Stop is called. The first
// pass starts immediately.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("maintenance: daemon is already running")
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.done = make(chan struct{})
	go d.run(ctx)
	return nil
}

// Stop cancels the current pass and waits for it to return.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	<-d.done
	d.running = false
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)
	interval := d.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce maintains every table once and returns one report per table in
// name order. A failing table does not stop the others.
func (d *Daemon) RunOnce(ctx context.Context) []TableReport {
	var ids []catalog.Identifier
	for _, ns := range d.cfg.Namespaces {
		found, err := d.tables.List(ctx, ns)
		if err != nil {
			d.logger.Error().Err(err).Str("namespace", ns).Msg("maintenance: list tables failed")
			continue
		}
		ids = append(ids, found...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	d.bp.Adjust()
	if d.bp.ShouldPause(len(ids)) {
		d.logger.Warn().Int("tables", len(ids)).Float64("failure_rate", d.bp.FailureRate()).
			Msg("maintenance: pass paused by backpressure")
		return nil
	}

	reports := make([]TableReport, len(ids))
	var g errgroup.Group
	g.SetLimit(d.bp.Concurrency())
	for i, id := range ids {
		g.Go(func() error {
			reports[i] = d.maintain(ctx, id)
			d.bp.Record(reports[i].Err)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// maintain runs every step against one table, carrying the newest
// version from step to step.
func (d *Daemon) maintain(ctx context.Context, id catalog.Identifier) TableReport {
	rep := TableReport{Table: id}
	log := d.logger.With().Str("table", id.String()).Logger()
	fail := func(step string, err error) TableReport {
		rep.Err = fmt.Errorf("maintenance: %s %s: %w", step, id, err)
		log.Error().Err(err).Str("step", step).Msg("maintenance step failed")
		return rep
	}

	tbl, err := d.tables.Load(ctx, id)
	if err != nil {
		return fail("load", err)
	}

	opts := table.ExpireOptions{RetainLast: d.cfg.MinSnapshotsToKeep}
	if d.cfg.SnapshotMaxAge > 0 {
		opts.OlderThan = d.now().Add(-d.cfg.SnapshotMaxAge)
	}
	tbl, exp, err := tbl.ExpireSnapshots(ctx, opts)
	if err != nil {
		return fail("expire", err)
	}
	if rep.Expired = len(exp.Expired); rep.Expired > 0 {
		metrics.SnapshotsExpired.Add(float64(rep.Expired))
		cleaned, err := d.cleaner.Cleanup(ctx, exp.Before, exp.After)
		if err != nil {
			return fail("cleanup", err)
		}
		rep.FilesDeleted = cleaned.Deleted()
	}

	tbl, comp, err := d.compact.Compact(ctx, tbl, CompactOptions{
		TargetFileSizeBytes: d.cfg.TargetFileSizeBytes,
		MinInputFiles:       d.cfg.MinInputFiles,
	})
	if err != nil {
		return fail("compact", err)
	}
	rep.FilesCompacted = len(comp.Removed)

	if d.advisor != nil {
		if tbl, rep.BloomUpdated, err = d.advisor.Apply(ctx, tbl); err != nil {
			return fail("bloom advice", err)
		}
	}

	if d.cfg.OrphanMinAge > 0 {
		orphans, err := d.cleaner.FindOrphans(ctx, tbl.Metadata(), tbl.MetadataLocation(), d.now().Add(-d.cfg.OrphanMinAge))
		if err != nil {
			return fail("find orphans", err)
		}
		deleted, _ := d.cleaner.RemoveOrphans(ctx, orphans)
		rep.OrphansRemoved = len(deleted)
	}

	log.Debug().Int("expired", rep.Expired).Int("deleted", rep.FilesDeleted).
		Int("compacted", rep.FilesCompacted).Int("orphans", rep.OrphansRemoved).Msg("table maintained")
	return rep
}
