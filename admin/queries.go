package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/velocitydb/velocity/executor"
)

// querySummary is a task's status without its rows.
type querySummary struct {
	QueryID    string     `json:"query_id"`
	Status     string     `json:"status"`
	Multiple   bool       `json:"multiple"`
	Error      string     `json:"error,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	RowCount   int        `json:"row_count"`
	Statements int        `json:"statements,omitempty"`
}

func summarize(res executor.QueryResult) querySummary {
	s := querySummary{
		QueryID:   res.QueryID,
		Status:    res.Status.String(),
		Multiple:  res.Multiple,
		Error:     res.Error,
		StartTime: res.StartTime,
	}
	if !res.EndTime.IsZero() {
		end := res.EndTime
		s.EndTime = &end
	}
	if res.Result != nil {
		s.RowCount = len(res.Result.Rows)
	}
	s.Statements = len(res.Results)
	for _, r := range res.Results {
		if r.Result != nil {
			s.RowCount += len(r.Result.Rows)
		}
	}
	return s
}

// handleConnections lists registered connections
func (h *AdminHandlers) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.engine.Connections())
}

// handleActiveQueries lists pending and running async queries
func (h *AdminHandlers) handleActiveQueries(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.ActiveQueryIDs()
	out := make([]querySummary, 0, len(ids))
	for _, queryID := range ids {
		out = append(out, summarize(h.engine.QueryResult(queryID)))
	}
	writeJSONResponse(w, out)
}

// handleQuery reports one async query
func (h *AdminHandlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	res := h.engine.QueryResult(chi.URLParam(r, "queryID"))
	if res.StartTime.IsZero() {
		writeErrorResponse(w, http.StatusNotFound, res.Error)
		return
	}
	writeJSONResponse(w, summarize(res))
}

// handleHistory returns recent statements, newest first
func (h *AdminHandlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := h.engine.QueryHistory(r.URL.Query().Get("connection"), limit)
	if entries == nil {
		writeJSONResponse(w, []struct{}{})
		return
	}
	writeJSONResponse(w, entries)
}
