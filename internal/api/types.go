package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string `json:"state"` // "ok" | "empty"
	MetricCount int    `json:"metric_count"`
	RowCount    int    `json:"row_count"`
	AlertCount  int    `json:"alert_count"`
}

// MetricSummary is one metric entry in GET /api/v1/metrics.
type MetricSummary struct {
	Metric                string `json:"metric"`
	SourceID              string `json:"source_id"`
	RowCount              int    `json:"row_count"`
	EntityCount           int    `json:"entity_count"`
	FirstDate             string `json:"first_date,omitempty"`  // ISO-8601 date
	LatestDate            string `json:"latest_date,omitempty"` // ISO-8601 date
	CorrectionsSuppressed int    `json:"corrections_suppressed"`
	DuplicatesDropped     int    `json:"duplicates_dropped"`
	UpdatedAt             string `json:"updated_at"` // RFC3339
}

// Row is one derived observation in the flat rendering-surface table.
type Row struct {
	EntityID         string `json:"entity_id"`
	Date             string `json:"date"` // ISO-8601 date
	CumulativeCount  int64  `json:"cumulative_count"`
	IncrementalCount int64  `json:"incremental_count"`
}

// TableResponse is the payload for GET /api/v1/metrics/{name}: the full
// derived table handed to the rendering surface.
type TableResponse struct {
	MetricSummary
	Rows []Row `json:"rows"`
}

// SeriesResponse is the payload for GET /api/v1/metrics/{name}/entities/{id}.
type SeriesResponse struct {
	Metric   string `json:"metric"`
	EntityID string `json:"entity_id"`
	Rows     []Row  `json:"rows"`
}

// HistoryResponse is the payload for GET /api/v1/history.
type HistoryResponse struct {
	Metric   string `json:"metric"`
	EntityID string `json:"entity_id,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Rows     []Row  `json:"rows"`
}

// QualityHint is one human-readable insight about a metric's data quality.
type QualityHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// MetricQuality is one metric entry in GET /api/v1/quality.
type MetricQuality struct {
	MetricSummary
	Hints []QualityHint `json:"hints"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the
// WebSocket broadcast envelope body.
type SnapshotResponse struct {
	Metrics     []TableResponse `json:"metrics"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
