// Package commit implements the optimistic commit protocol. A commit reads
// the current pointer, loads that metadata version, lets the caller build
// the next version against it, writes the new metadata file and swaps the
// pointer. When the swap loses to another writer the whole update is
// rebuilt against the winner's metadata and retried with jittered
// exponential backoff.
package commit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkilian/strata/internal/catalog"
	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/storage"
)

// UpdateFunc builds the next metadata version from base. It is called
// once per attempt and must derive everything it writes from base; work
// done for a losing attempt is discarded.
type UpdateFunc func(ctx context.Context, base *metadata.TableMetadata) (*metadata.Builder, error)

// Config bounds the retry loop.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. The
	// table property commit.retry.num-retries takes precedence.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns the default retry bounds.
func DefaultConfig() Config {
	return Config{MaxRetries: 4, MinBackoff: 100 * time.Millisecond, MaxBackoff: 60 * time.Second}
}

// Result describes a successful commit.
type Result struct {
	Location string
	Metadata *metadata.TableMetadata
	Attempts int
}

// Committer commits metadata changes for tables of one catalog.
type Committer struct {
	catalog catalog.Catalog
	store   storage.ObjectStore
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Committer.
type Option func(*Committer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Committer) { c.logger = l } }

// WithClock sets the time source stamped into metadata.
func WithClock(now func() time.Time) Option { return func(c *Committer) { c.now = now } }

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Committer) { c.sleep = sleep }
}

// New creates a committer.
func New(cat catalog.Catalog, store storage.ObjectStore, cfg Config, opts ...Option) *Committer {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultConfig().MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	c := &Committer{
		catalog: cat,
		store:   store,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Catalog returns the catalog the committer swaps pointers in.
func (c *Committer) Catalog() catalog.Catalog { return c.catalog }

// Store returns the object store metadata is written to.
func (c *Committer) Store() storage.ObjectStore { return c.store }

// Create writes the first metadata version of a table and registers it.
func (c *Committer) Create(ctx context.Context, id catalog.Identifier, md *metadata.TableMetadata) (*Result, error) {
	loc := metadata.NewLocation(md.Location, "")
	if err := metadata.Write(ctx, c.store, loc, md); err != nil {
		return nil, err
	}
	if err := c.catalog.CreateTable(ctx, id, loc); err != nil {
		return nil, err
	}
	c.logger.Info().Str("table", id.String()).Str("location", loc).Msg("table created")
	return &Result{Location: loc, Metadata: md, Attempts: 1}, nil
}

// Load reads the current metadata of a table.
func (c *Committer) Load(ctx context.Context, id catalog.Identifier) (string, *metadata.TableMetadata, error) {
	loc, err := c.catalog.LoadTable(ctx, id)
	if err != nil {
		return "", nil, err
	}
	md, err := metadata.Read(ctx, c.store, loc)
	if err != nil {
		return "", nil, err
	}
	return loc, md, nil
}

// Commit applies update to the current metadata of a table. A failed
// commit leaves the pointer unchanged. When every attempt loses, the
// returned error is a COMMIT_CONFLICT.
func (c *Committer) Commit(ctx context.Context, id catalog.Identifier, update UpdateFunc) (*Result, error) {
	start := time.Now()
	defer func() { metrics.CommitDuration.Observe(time.Since(start).Seconds()) }()

	for attempt := 1; ; attempt++ {
		res, err := c.attempt(ctx, id, update)
		if err == nil {
			res.Attempts = attempt
			metrics.Commits.WithLabelValues("success").Inc()
			c.logger.Debug().Str("table", id.String()).Int("attempt", attempt).
				Str("location", res.Location).Msg("commit succeeded")
			return res, nil
		}
		if !strataerrors.IsCommitConflict(err) {
			metrics.Commits.WithLabelValues("error").Inc()
			return nil, err
		}

		limit := c.cfg.MaxRetries
		if res != nil && res.Metadata != nil {
			limit = int(res.Metadata.PropertyInt(metadata.PropCommitNumRetries, int64(limit)))
		}
		if attempt > limit {
			metrics.Commits.WithLabelValues("conflict").Inc()
			c.logger.Warn().Str("table", id.String()).Int("attempts", attempt).Msg("commit retries exhausted")
			return nil, strataerrors.NewCommitConflict(
				fmt.Sprintf("commit to %s failed after %d attempts", id, attempt), err).
				WithDetails(map[string]interface{}{"table": id.String(), "attempts": attempt})
		}

		d := c.backoff(attempt)
		c.logger.Debug().Str("table", id.String()).Int("attempt", attempt).
			Dur("backoff", d).Msg("commit conflict, retrying against new base")
		if err := c.sleep(ctx, d); err != nil {
			metrics.Commits.WithLabelValues("error").Inc()
			return nil, err
		}
	}
}

// attempt runs one read-build-write-swap round. On a conflict it returns
// the base metadata in the result so the caller can read the table's
// retry property.
func (c *Committer) attempt(ctx context.Context, id catalog.Identifier, update UpdateFunc) (*Result, error) {
	baseLoc, base, err := c.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := update(ctx, base)
	if err != nil {
		return nil, err
	}
	next, err := b.WithClock(c.now).Build(baseLoc)
	if err != nil {
		return nil, err
	}
	loc := metadata.NewLocation(next.Location, baseLoc)
	if err := metadata.Write(ctx, c.store, loc, next); err != nil {
		return nil, err
	}

	metrics.CommitAttempts.Inc()
	if err := c.catalog.Commit(ctx, id, baseLoc, loc); err != nil {
		return &Result{Metadata: base}, err
	}
	return &Result{Location: loc, Metadata: next}, nil
}

// backoff returns the delay before retry n (1-based): exponential from
// MinBackoff, capped at MaxBackoff, with up to 50% jitter subtracted.
func (c *Committer) backoff(n int) time.Duration {
	d := c.cfg.MinBackoff
	for i := 1; i < n && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d - jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
