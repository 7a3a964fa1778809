// Package derive computes daily incremental counts from cumulative
// case-count time series.
//
// The input is an unordered collection of (entity, date, cumulative)
// observations, possibly spanning many entities. Derive groups them by
// entity, orders each series by date, and takes the clipped first
// difference: day-over-day increases, with negative differences (reporting
// corrections) floored to zero. The floor is deliberate and silent at the
// row level; a per-pass Quality record counts suppressed corrections and
// dropped duplicate dates so operators can see how lossy a feed is.
//
// Derive is a pure function — the refresh loop in cmd/casewatch runs it
// once per metric per cycle and hands the Result to the store.
package derive
