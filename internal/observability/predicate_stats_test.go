package observability

import (
	"sync"
	"testing"
	"time"
)

func TestRecordPredicateConcurrent(t *testing.T) {
	qs := NewPredicateStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordPredicate("db.events", "id", "=")
				qs.RecordPredicate("db.events", "level", "in")
				qs.RecordPredicate("db.events", "ts", ">")
			}
		}()
	}
	wg.Wait()

	top := qs.Top("db.events", 10)
	if len(top) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(top))
	}
	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Frequency != expected {
			t.Errorf("expected frequency %d for %s, got %d", expected, s.Column, s.Frequency)
		}
	}
}

func TestTopOrderingAndCopy(t *testing.T) {
	qs := NewPredicateStats(time.Hour)
	for i := 0; i < 10; i++ {
		qs.RecordPredicate("t", "id", "=")
	}
	for i := 0; i < 20; i++ {
		qs.RecordPredicate("t", "ts", "<")
	}
	qs.RecordPredicate("other", "x", "=")

	top := qs.Top("t", 1)
	if len(top) != 1 || top[0].Column != "ts" {
		t.Fatalf("unexpected top %+v", top)
	}
	top[0].Operators["<"] = 0
	if qs.Top("t", 1)[0].Operators["<"] != 20 {
		t.Fatal("Top must return a copy")
	}
	if got := qs.Top("missing", 5); len(got) != 0 {
		t.Fatalf("expected no stats, got %v", got)
	}
}

func TestPointLookupColumns(t *testing.T) {
	qs := NewPredicateStats(time.Hour)
	for i := 0; i < 3; i++ {
		qs.RecordPredicate("t", "user", "=")
		qs.RecordPredicate("t", "ts", ">")
	}
	qs.RecordPredicate("t", "tenant", "in")

	got := qs.PointLookupColumns("t", 2)
	if len(got) != 1 || got[0] != "user" {
		t.Fatalf("expected [user], got %v", got)
	}
}

func TestPrune(t *testing.T) {
	qs := NewPredicateStats(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	qs.now = func() time.Time { return now }
	qs.RecordPredicate("t", "old", "=")
	now = now.Add(2 * time.Minute)
	qs.RecordPredicate("t", "new", "=")

	qs.Prune()
	top := qs.Top("t", 10)
	if len(top) != 1 || top[0].Column != "new" {
		t.Fatalf("expected only new column after prune, got %+v", top)
	}
}
