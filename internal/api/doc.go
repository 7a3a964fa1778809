// Package api serves the derived tables over a versioned JSON API.
//
// Endpoints (all GET):
//
//	/api/v1/health                            — live metric and row counts
//	/api/v1/metrics                           — per-metric summaries
//	/api/v1/metrics/{name}                    — full derived table
//	/api/v1/metrics/{name}/entities/{id}      — one entity's series
//	/api/v1/history?metric=&entity=&from=&to= — SQLite time-range query
//	/api/v1/quality                           — quality stats + hints
//	/api/v1/alerts                            — firing and recent alerts
//	/api/v1/snapshot                          — everything (WS payload)
//
// The table payloads carry the flat rendering-surface columns
// {entity_id, date, cumulative_count, incremental_count}; all aggregation,
// binning, and visual layout is the consuming dashboard's job.
//
// RequireKey provides optional API-key middleware over the whole handler.
package api
