// Package observability tracks which columns scan filters use, per table.
// The counts back the /v1/tables/{ns}/{name}/predicates endpoint and the
// bloom filter column advice of the maintenance daemon.
package observability

import (
	"sort"
	"sync"
	"time"
)

// PredicateStats counts filter predicates by table and column.
type PredicateStats struct {
	mu     sync.RWMutex
	tables map[string]map[string]*ColumnStats
	window time.Duration
	now    func() time.Time
}

// ColumnStats holds statistics for one column of one table.
type ColumnStats struct {
	Column    string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "=" → 5, "in" → 2)
}

// NewPredicateStats creates a tracker whose entries expire after window.
func NewPredicateStats(window time.Duration) *PredicateStats {
	return &PredicateStats{
		tables: make(map[string]map[string]*ColumnStats),
		window: window,
		now:    time.Now,
	}
}

// RecordPredicate records one predicate of a scan filter. Safe for
// concurrent use.
func (q *PredicateStats) RecordPredicate(table, column, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cols, ok := q.tables[table]
	if !ok {
		cols = make(map[string]*ColumnStats)
		q.tables[table] = cols
	}
	stats, ok := cols[column]
	if !ok {
		stats = &ColumnStats{Column: column, Operators: make(map[string]int)}
		cols[column] = stats
	}
	stats.Frequency++
	stats.LastSeen = q.now()
	stats.Operators[operator]++
}

// Top returns up to n columns of a table by frequency, most used first.
// The result is a copy.
func (q *PredicateStats) Top(table string, n int) []ColumnStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	cols := q.tables[table]
	if n <= 0 || len(cols) == 0 {
		return []ColumnStats{}
	}
	stats := make([]ColumnStats, 0, len(cols))
	for _, s := range cols {
		cp := ColumnStats{Column: s.Column, Frequency: s.Frequency, LastSeen: s.LastSeen, Operators: make(map[string]int, len(s.Operators))}
		for op, count := range s.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Column < stats[j].Column
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// PointLookupColumns returns the columns of a table that were filtered with
// "=" or "in" at least minCount times, in name order. Bloom filters only help
// those operators.
func (q *PredicateStats) PointLookupColumns(table string, minCount int) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []string
	for col, s := range q.tables[table] {
		if s.Operators["="]+s.Operators["in"] >= minCount {
			out = append(out, col)
		}
	}
	sort.Strings(out)
	return out
}

// Prune removes columns not seen within the window.
func (q *PredicateStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := q.now().Add(-q.window)
	for table, cols := range q.tables {
		for col, stats := range cols {
			if stats.LastSeen.Before(threshold) {
				delete(cols, col)
			}
		}
		if len(cols) == 0 {
			delete(q.tables, table)
		}
	}
}
