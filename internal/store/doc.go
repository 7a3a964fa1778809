// Package store holds the live derived tables, one per metric, with TTL
// eviction so feeds that stop refreshing age out of the API. The optional
// history subpackage persists derived rows to SQLite for time-range queries
// beyond the live window.
package store
