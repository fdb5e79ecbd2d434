package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkilian/strata/internal/snapshot"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

// AppendRequest is a batch of rows to append as one snapshot.
type AppendRequest struct {
	Rows []map[string]any `json:"rows"`
	// Branch defaults to main.
	Branch string `json:"branch,omitempty"`
}

// AppendResponse describes the committed snapshot.
type AppendResponse struct {
	SnapshotID       int64  `json:"snapshot_id"`
	SequenceNumber   int64  `json:"sequence_number"`
	AddedDataFiles   int64  `json:"added_data_files"`
	AddedRecords     int64  `json:"added_records"`
	MetadataLocation string `json:"metadata_location"`
	RequestID        string `json:"request_id"`
}

func (h *Handler) append(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req AppendRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "rows cannot be empty", "", requestID)
		return
	}

	tbl, ok := h.load(w, r)
	if !ok {
		return
	}
	rows := make([]types.Row, len(req.Rows))
	for i, m := range req.Rows {
		rows[i] = types.Row(m)
	}
	var opts []table.WriteOption
	branch := "main"
	if req.Branch != "" {
		branch = req.Branch
		opts = append(opts, table.ToBranch(req.Branch))
	}
	next, err := tbl.Append(r.Context(), rows, opts...)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	snap, _ := next.Metadata().SnapshotByRef(branch)
	resp := AppendResponse{MetadataLocation: next.MetadataLocation(), RequestID: requestID}
	if snap != nil {
		resp.SnapshotID = snap.SnapshotID
		resp.SequenceNumber = snap.SequenceNumber
		resp.AddedDataFiles = snap.Summary.Int(snapshot.AddedDataFiles)
		resp.AddedRecords = snap.Summary.Int(snapshot.AddedRecords)
	}
	h.logger.Info().Str("table", next.Identifier().String()).Int64("snapshot_id", resp.SnapshotID).
		Int("rows", len(rows)).Str("request_id", requestID).Msg("rows appended")
	writeJSON(w, http.StatusCreated, resp)
}
