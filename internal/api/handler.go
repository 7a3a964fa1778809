package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/casewatch/casewatch/internal/alerts"
	"github.com/casewatch/casewatch/internal/derive"
	"github.com/casewatch/casewatch/internal/store"
)

// Historian is the slice of the history store the API reads from.
// Nil means history is disabled.
type Historian interface {
	Range(ctx context.Context, metric, entity string, from, to time.Time) ([]derive.Derived, error)
}

// Alerter exposes the active alert list to the API.
type Alerter interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads derived tables from the live store and returns JSON responses.
type Handler struct {
	store   *store.Store
	alerter Alerter
	history Historian
	mux     *http.ServeMux
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Handler wired to the given store and registers all routes.
// alerter and history may be nil (alerts endpoint returns an empty list,
// history endpoint reports history as disabled).
func New(st *store.Store, alerter Alerter, history Historian) *Handler {
	h := &Handler{
		store:   st,
		alerter: alerter,
		history: history,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/metrics", h.listMetrics)
	h.mux.HandleFunc("/api/v1/metrics/", h.metricSubtree) // extracts {name}[/entities/{id}]
	h.mux.HandleFunc("/api/v1/history", h.historyRange)
	h.mux.HandleFunc("/api/v1/quality", h.quality)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — live metric and row counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{MetricCount: len(entries)}
	for _, e := range entries {
		resp.RowCount += len(e.Rows)
	}
	if h.alerter != nil {
		resp.AlertCount = len(h.alerter.Active())
	}
	if len(entries) == 0 {
		resp.State = "empty"
	} else {
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listMetrics returns GET /api/v1/metrics — summaries of all live tables.
func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]MetricSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSummary(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// metricSubtree routes GET /api/v1/metrics/{name} and
// GET /api/v1/metrics/{name}/entities/{id}.
func (h *Handler) metricSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/metrics/")
	if rest == "" {
		h.listMetrics(w, r)
		return
	}

	name, tail, hasTail := strings.Cut(rest, "/")
	e, ok := h.liveEntry(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "metric not found")
		return
	}

	if !hasTail {
		jsonResp(w, http.StatusOK, toTable(e))
		return
	}

	entity, ok := strings.CutPrefix(tail, "entities/")
	if !ok || entity == "" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	rows := make([]Row, 0)
	for _, d := range e.Rows {
		if d.Entity == entity {
			rows = append(rows, toRow(d))
		}
	}
	if len(rows) == 0 {
		jsonErr(w, http.StatusNotFound, "entity not found")
		return
	}
	jsonResp(w, http.StatusOK, SeriesResponse{Metric: e.Metric, EntityID: entity, Rows: rows})
}

// historyRange returns GET /api/v1/history?metric=&entity=&from=&to=.
func (h *Handler) historyRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		jsonErr(w, http.StatusNotImplemented, "history backend is disabled")
		return
	}

	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		jsonErr(w, http.StatusBadRequest, "metric parameter is required")
		return
	}

	var from, to time.Time
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(derive.DateLayout, v); err != nil {
			jsonErr(w, http.StatusBadRequest, "from: expected YYYY-MM-DD")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(derive.DateLayout, v); err != nil {
			jsonErr(w, http.StatusBadRequest, "to: expected YYYY-MM-DD")
			return
		}
	}

	entity := q.Get("entity")
	rows, err := h.history.Range(r.Context(), metric, entity, from, to)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "history query failed")
		return
	}

	resp := HistoryResponse{
		Metric:   metric,
		EntityID: entity,
		From:     q.Get("from"),
		To:       q.Get("to"),
		Rows:     make([]Row, 0, len(rows)),
	}
	for _, d := range rows {
		resp.Rows = append(resp.Rows, toRow(d))
	}
	jsonResp(w, http.StatusOK, resp)
}

// quality returns GET /api/v1/quality — per-metric quality stats and hints.
func (h *Handler) quality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]MetricQuality, 0, len(entries))
	for _, e := range entries {
		out = append(out, MetricQuality{
			MetricSummary: toSummary(e),
			Hints:         computeHints(e, h.now()),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts returns GET /api/v1/alerts — firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerter == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerter.Active())
}

// snapshot returns GET /api/v1/snapshot — full JSON dump of all live tables.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot assembles the full snapshot payload. The WebSocket hub uses
// it as the broadcast body.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	entries := st.List()
	metrics := make([]TableResponse, 0, len(entries))
	for _, e := range entries {
		metrics = append(metrics, toTable(e))
	}
	return SnapshotResponse{
		Metrics:     metrics,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// liveEntry returns the entry for metric, excluding stale ones — a table
// past its TTL is treated as not found.
func (h *Handler) liveEntry(metric string) (*store.Entry, bool) {
	e, ok := h.store.Get(metric)
	if !ok {
		return nil, false
	}
	if h.now().Sub(e.UpdatedAt) > h.store.TTL() {
		return nil, false
	}
	return e, true
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toRow(d derive.Derived) Row {
	return Row{
		EntityID:         d.Entity,
		Date:             d.Date.Format(derive.DateLayout),
		CumulativeCount:  d.Cumulative,
		IncrementalCount: d.Incremental,
	}
}

func toSummary(e *store.Entry) MetricSummary {
	s := MetricSummary{
		Metric:                e.Metric,
		SourceID:              e.SourceID,
		RowCount:              e.Quality.Rows,
		EntityCount:           e.Quality.Entities,
		CorrectionsSuppressed: e.Quality.CorrectionsSuppressed,
		DuplicatesDropped:     e.Quality.DuplicatesDropped,
		UpdatedAt:             e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !e.Quality.FirstDate.IsZero() {
		s.FirstDate = e.Quality.FirstDate.Format(derive.DateLayout)
	}
	if !e.Quality.LatestDate.IsZero() {
		s.LatestDate = e.Quality.LatestDate.Format(derive.DateLayout)
	}
	return s
}

func toTable(e *store.Entry) TableResponse {
	rows := make([]Row, 0, len(e.Rows))
	for _, d := range e.Rows {
		rows = append(rows, toRow(d))
	}
	return TableResponse{MetricSummary: toSummary(e), Rows: rows}
}
