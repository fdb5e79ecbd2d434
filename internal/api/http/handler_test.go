package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/commit"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

var eventsID = catalog.Identifier{Namespace: "db", Name: "events"}

func newServer(t *testing.T) (*httptest.Server, *table.Tables, *observability.PredicateStats) {
	t.Helper()
	store := storage.NewMemoryStorage()
	c := commit.New(catalog.NewObjectCatalog(store, ""), store, commit.Config{MaxRetries: 3},
		commit.WithSleep(func(context.Context, time.Duration) error { return nil }))
	stats := observability.NewPredicateStats(time.Hour)
	tables := table.New(c, "warehouse", table.WithPredicateRecorder(stats))

	sch := schema.New(0,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "level", Type: types.String},
	)
	spec := &partition.Spec{Fields: []partition.Field{
		{SourceID: 2, Name: "level", Transform: partition.Transform{Kind: partition.Identity}},
	}}
	_, err := tables.Create(context.Background(), eventsID, sch, spec, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(tables, stats, zerolog.Nop()).Register(mux, DefaultMiddleware(zerolog.Nop()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tables, stats
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAppendThenScan(t *testing.T) {
	srv, _, stats := newServer(t)
	base := srv.URL + "/v1/tables/db/events"

	resp := post(t, base+"/append", AppendRequest{Rows: []map[string]any{
		{"id": 1, "level": "info"},
		{"id": 2, "level": "warn"},
		{"id": 3, "level": "warn"},
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	app := decode[AppendResponse](t, resp)
	assert.EqualValues(t, 3, app.AddedRecords)
	assert.EqualValues(t, 2, app.AddedDataFiles)
	assert.EqualValues(t, 1, app.SequenceNumber)

	resp = post(t, base+"/scan", ScanRequest{Filter: "level = 'warn'", Columns: []string{"id"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scan := decode[ScanResponse](t, resp)
	assert.Equal(t, []string{"id"}, scan.Columns)
	assert.Len(t, scan.Rows, 2)
	require.NotNil(t, scan.SnapshotID)
	assert.Equal(t, app.SnapshotID, *scan.SnapshotID)
	assert.Equal(t, 1, scan.Stats.FilesPlanned)
	top := stats.Top(eventsID.String(), 10)
	require.NotEmpty(t, top)
	assert.Equal(t, "level", top[0].Column)

	resp = post(t, base+"/scan", ScanRequest{Limit: 1})
	scan = decode[ScanResponse](t, resp)
	assert.Len(t, scan.Rows, 1)
	assert.True(t, scan.Truncated)
}

func TestScan_BadRequests(t *testing.T) {
	srv, _, _ := newServer(t)
	base := srv.URL + "/v1/tables/db/events"

	resp := post(t, base+"/scan", ScanRequest{Filter: "level = = 1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, base+"/scan", ScanRequest{Filter: "missing = 1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, base+"/append", AppendRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/v1/tables/db/nope/scan", ScanRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := decode[ErrorResponse](t, resp)
	assert.Equal(t, "TABLE_NOT_FOUND", e.Code)
	assert.NotEmpty(t, e.RequestID)
}

func TestListDescribeSnapshots(t *testing.T) {
	srv, tables, _ := newServer(t)
	ctx := context.Background()
	tbl, err := tables.Load(ctx, eventsID)
	require.NoError(t, err)
	_, err = tbl.Append(ctx, []types.Row{{"id": int64(1), "level": "info"}})
	require.NoError(t, err)

	list := decode[ListResponse](t, get(t, srv.URL+"/v1/tables?namespace=db"))
	assert.Equal(t, []catalog.Identifier{eventsID}, list.Tables)

	resp := get(t, srv.URL+"/v1/tables/db/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	desc := decode[TableResponse](t, resp)
	assert.Equal(t, eventsID, desc.Identifier)
	assert.Contains(t, desc.MetadataLocation, "/metadata/")
	assert.Contains(t, string(desc.Metadata), `"format-version"`)

	snaps := decode[SnapshotsResponse](t, get(t, srv.URL+"/v1/tables/db/events/snapshots"))
	require.Len(t, snaps.Snapshots, 1)
	require.NotNil(t, snaps.CurrentSnapshotID)
	assert.Equal(t, snaps.Snapshots[0].SnapshotID, *snaps.CurrentSnapshotID)
	assert.Contains(t, snaps.Refs, "main")

	resp = get(t, srv.URL+"/v1/tables/db/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPredicates(t *testing.T) {
	srv, _, stats := newServer(t)
	for range 3 {
		stats.RecordPredicate(eventsID.String(), "id", "=")
	}
	stats.RecordPredicate(eventsID.String(), "level", ">")

	resp := get(t, srv.URL+"/v1/tables/db/events/predicates?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[PredicateResponse](t, resp)
	require.Len(t, out.Columns, 1)
	assert.Equal(t, "id", out.Columns[0].Column)
	assert.Equal(t, []string{"id"}, out.PointLookupColumns)

	resp = get(t, srv.URL+"/v1/tables/db/events/predicates?limit=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}
