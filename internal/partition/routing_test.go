package partition

import (
	"testing"
	"time"

	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

func testSchema() *schema.Schema {
	return schema.New(0,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "ts", Required: true, Type: types.Timestamp},
		schema.Field{ID: 3, Name: "level", Type: types.String},
	)
}

func TestRouter_RouteRow(t *testing.T) {
	sch := testSchema()
	spec, err := NewSpecBuilder(sch, 0, 0).
		Add("ts", Transform{Kind: Day}, "").
		Add("level", Transform{Kind: Identity}, "").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	router, err := NewRouter(spec, sch)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	ts := time.Date(2026, 2, 6, 12, 30, 0, 0, time.UTC)
	tuple, err := router.RouteRow(types.Row{"id": 1, "ts": ts, "level": "warn"})
	if err != nil {
		t.Fatalf("RouteRow: %v", err)
	}
	if got := spec.Path(tuple); got != "ts_day=2026-02-06/level=warn" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestRouter_RouteRowsGroups(t *testing.T) {
	sch := testSchema()
	spec, err := NewSpecBuilder(sch, 0, 0).Add("level", Transform{Kind: Identity}, "").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	router, err := NewRouter(spec, sch)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	rows := []types.Row{
		{"id": 1, "ts": time.Now(), "level": "info"},
		{"id": 2, "ts": time.Now(), "level": "warn"},
		{"id": 3, "ts": time.Now(), "level": "info"},
		{"id": 4, "ts": time.Now(), "level": nil},
	}
	groups, err := router.RouteRows(rows)
	if err != nil {
		t.Fatalf("RouteRows: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	total := 0
	for _, g := range groups {
		total += len(g.Rows)
		if g.Partition[0].Equal(types.StringLiteral("info")) && len(g.Rows) != 2 {
			t.Errorf("info group has %d rows, want 2", len(g.Rows))
		}
	}
	if total != len(rows) {
		t.Errorf("routed %d rows, want %d", total, len(rows))
	}
}

func TestRouter_BadValue(t *testing.T) {
	sch := testSchema()
	spec, _ := NewSpecBuilder(sch, 0, 0).Add("id", Transform{Kind: Bucket, Param: 4}, "").Build()
	router, err := NewRouter(spec, sch)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if _, err := router.RouteRow(types.Row{"id": "not-a-number"}); err == nil {
		t.Error("expected routing error for non-numeric id")
	}
}

func TestSpecBuilder_AssignsIDsAboveLast(t *testing.T) {
	sch := testSchema()
	spec, err := NewSpecBuilder(sch, 1, 1001).Add("id", Transform{Kind: Bucket, Param: 8}, "").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Fields[0].FieldID != 1002 {
		t.Errorf("field id = %d, want 1002", spec.Fields[0].FieldID)
	}
	if spec.Fields[0].Name != "id_bucket_8" {
		t.Errorf("field name = %q", spec.Fields[0].Name)
	}
}

func TestSpec_ValidateRejectsBadTransform(t *testing.T) {
	sch := testSchema()
	if _, err := NewSpecBuilder(sch, 0, 0).Add("level", Transform{Kind: Hour}, "").Build(); err == nil {
		t.Error("hour on string should be rejected")
	}
	if _, err := NewSpecBuilder(sch, 0, 0).Add("missing", Transform{Kind: Identity}, "").Build(); err == nil {
		t.Error("unknown source column should be rejected")
	}
}
