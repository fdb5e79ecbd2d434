package maintenance

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

// BloomAdvisor turns observed point lookups into bloom filter columns. A
// column filtered with = or in at least MinCount times within the stats
// window is added to write.parquet.bloom-filter-columns; columns are never
// removed automatically.
type BloomAdvisor struct {
	stats      *observability.PredicateStats
	minCount   int
	maxColumns int
	logger     zerolog.Logger
}

// NewBloomAdvisor creates an advisor over stats.
func NewBloomAdvisor(stats *observability.PredicateStats, minCount, maxColumns int, logger zerolog.Logger) *BloomAdvisor {
	if minCount <= 0 {
		minCount = 10
	}
	if maxColumns <= 0 {
		maxColumns = 4
	}
	return &BloomAdvisor{stats: stats, minCount: minCount, maxColumns: maxColumns, logger: logger}
}

// Advise returns the bloom filter columns tbl should have: the configured
// ones followed by new point lookup columns of the current schema, capped
// at the advisor's maximum.
func (a *BloomAdvisor) Advise(tbl *table.Table) []string {
	current := datafile.OptionsFromProperties(tbl.Metadata().Properties).BloomColumns
	out := slices.Clone(current)
	sch := tbl.Schema()
	for _, col := range a.stats.PointLookupColumns(tbl.Identifier().String(), a.minCount) {
		if len(out) >= a.maxColumns {
			break
		}
		f, ok := sch.FieldByName(col, true)
		// Boolean columns are pruned by their bounds already.
		if !ok || f.Type == types.Boolean || slices.Contains(out, col) {
			continue
		}
		out = append(out, col)
	}
	return out
}

// Apply commits the advised columns when they differ from the table's.
func (a *BloomAdvisor) Apply(ctx context.Context, tbl *table.Table) (*table.Table, bool, error) {
	cols := a.Advise(tbl)
	if slices.Equal(cols, datafile.OptionsFromProperties(tbl.Metadata().Properties).BloomColumns) {
		return tbl, false, nil
	}
	next, err := tbl.SetProperties(ctx, map[string]string{metadata.PropBloomFilterColumns: strings.Join(cols, ",")})
	if err != nil {
		return nil, false, err
	}
	a.logger.Info().Str("table", tbl.Identifier().String()).Strs("columns", cols).Msg("bloom filter columns updated")
	return next, true, nil
}
