package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/table"
)

// Handler serves the /v1/tables endpoints.
type Handler struct {
	tables *table.Tables
	stats  *observability.PredicateStats
	logger zerolog.Logger
}

// NewHandler creates a handler. stats may be nil, in which case the
// predicates endpoint reports nothing.
func NewHandler(tables *table.Tables, stats *observability.PredicateStats, logger zerolog.Logger) *Handler {
	return &Handler{tables: tables, stats: stats, logger: logger}
}

// Register adds the table routes to mux, each wrapped by mw.
func (h *Handler) Register(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, mw(fn)) }
	route("GET /v1/tables", h.list)
	route("GET /v1/tables/{namespace}/{name}", h.describe)
	route("GET /v1/tables/{namespace}/{name}/snapshots", h.snapshots)
	route("GET /v1/tables/{namespace}/{name}/predicates", h.predicates)
	route("POST /v1/tables/{namespace}/{name}/scan", h.scan)
	route("POST /v1/tables/{namespace}/{name}/append", h.append)
}

func identifier(r *http.Request) (catalog.Identifier, error) {
	id := catalog.Identifier{Namespace: r.PathValue("namespace"), Name: r.PathValue("name")}
	return id, id.Validate()
}

// load resolves the table named by the request path, writing the error
// response itself when it fails.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*table.Table, bool) {
	id, err := identifier(r)
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}
	tbl, err := h.tables.Load(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return nil, false
	}
	return tbl, true
}

// ListResponse lists the tables of a namespace.
type ListResponse struct {
	Namespace string               `json:"namespace"`
	Tables    []catalog.Identifier `json:"tables"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		ns = "default"
	}
	ids, err := h.tables.List(r.Context(), ns)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if ids == nil {
		ids = []catalog.Identifier{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Namespace: ns, Tables: ids})
}

// TableResponse is the current metadata of a table.
type TableResponse struct {
	Identifier       catalog.Identifier `json:"identifier"`
	MetadataLocation string             `json:"metadata_location"`
	Metadata         json.RawMessage    `json:"metadata"`
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	tbl, ok := h.load(w, r)
	if !ok {
		return
	}
	data, err := metadata.Encode(tbl.Metadata())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TableResponse{
		Identifier:       tbl.Identifier(),
		MetadataLocation: tbl.MetadataLocation(),
		Metadata:         data,
	})
}

// SnapshotsResponse lists a table's snapshots oldest first with its refs.
type SnapshotsResponse struct {
	CurrentSnapshotID *int64                          `json:"current_snapshot_id,omitempty"`
	Snapshots         []metadata.Snapshot             `json:"snapshots"`
	Refs              map[string]metadata.SnapshotRef `json:"refs"`
	Log               []metadata.SnapshotLogEntry     `json:"snapshot_log,omitempty"`
}

func (h *Handler) snapshots(w http.ResponseWriter, r *http.Request) {
	tbl, ok := h.load(w, r)
	if !ok {
		return
	}
	md := tbl.Metadata()
	resp := SnapshotsResponse{
		Snapshots: md.Snapshots,
		Refs:      md.Refs,
		Log:       md.SnapshotLog,
	}
	if cur := md.CurrentSnapshot(); cur != nil {
		id := cur.SnapshotID
		resp.CurrentSnapshotID = &id
	}
	if resp.Snapshots == nil {
		resp.Snapshots = []metadata.Snapshot{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PredicateResponse reports the most filtered columns of a table.
type PredicateResponse struct {
	Table              string                      `json:"table"`
	Columns            []observability.ColumnStats `json:"columns"`
	PointLookupColumns []string                    `json:"point_lookup_columns"`
}

func (h *Handler) predicates(w http.ResponseWriter, r *http.Request) {
	id, err := identifier(r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "", GetRequestID(r.Context()))
			return
		}
		limit = n
	}
	resp := PredicateResponse{Table: id.String(), Columns: []observability.ColumnStats{}, PointLookupColumns: []string{}}
	if h.stats != nil {
		if top := h.stats.Top(resp.Table, limit); top != nil {
			resp.Columns = top
		}
		if cols := h.stats.PointLookupColumns(resp.Table, 1); cols != nil {
			resp.PointLookupColumns = cols
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
