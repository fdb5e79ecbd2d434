package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/planner"
)

// ScanRequest selects rows of one table version. At most one of
// SnapshotID, Ref and AsOfTimestampMs may be set.
type ScanRequest struct {
	Filter          string   `json:"filter"`
	Columns         []string `json:"columns,omitempty"`
	SnapshotID      *int64   `json:"snapshot_id,omitempty"`
	Ref             string   `json:"ref,omitempty"`
	AsOfTimestampMs *int64   `json:"as_of_timestamp_ms,omitempty"`
	CaseSensitive   bool     `json:"case_sensitive,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

// ScanResponse carries the selected rows in column order.
type ScanResponse struct {
	SnapshotID *int64            `json:"snapshot_id,omitempty"`
	Columns    []string          `json:"columns"`
	Rows       [][]any           `json:"rows"`
	Stats      planner.PlanStats `json:"stats"`
	Truncated  bool              `json:"truncated,omitempty"`
	ElapsedMs  int64             `json:"elapsed_ms"`
	RequestID  string            `json:"request_id"`
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	start := time.Now()

	var req ScanRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
			return
		}
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative", "", requestID)
		return
	}
	filter, err := expr.Parse(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid filter: %v", err), "", requestID)
		return
	}

	tbl, ok := h.load(w, r)
	if !ok {
		return
	}
	scan, err := tbl.NewScan(planner.Options{
		SnapshotID:      req.SnapshotID,
		Ref:             req.Ref,
		AsOfTimestampMs: req.AsOfTimestampMs,
		Filter:          filter,
		Columns:         req.Columns,
		CaseSensitive:   req.CaseSensitive,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	resp := ScanResponse{Columns: []string{}, Rows: [][]any{}, RequestID: requestID}
	if snap := scan.Snapshot(); snap != nil {
		id := snap.SnapshotID
		resp.SnapshotID = &id
	}
	for _, f := range scan.Projection().Fields {
		resp.Columns = append(resp.Columns, f.Name)
	}

	reader := datafile.NewReader(h.tables.Store())
	ctx := r.Context()
tasks:
	for task, err := range scan.PlanFiles(ctx, &resp.Stats) {
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		for row, err := range reader.Read(ctx, task, scan.Schema(), scan.Projection()) {
			if err != nil {
				writeEngineError(w, r, err)
				return
			}
			if req.Limit > 0 && len(resp.Rows) == req.Limit {
				resp.Truncated = true
				break tasks
			}
			values := make([]any, len(resp.Columns))
			for i, c := range resp.Columns {
				values[i] = row[c]
			}
			resp.Rows = append(resp.Rows, values)
		}
	}
	resp.ElapsedMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}
