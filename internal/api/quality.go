package api

import (
	"fmt"
	"time"

	"github.com/casewatch/casewatch/internal/store"
)

// staleAfter is how long without a refresh before a table gets a staleness
// hint. Public feeds update daily, so two missed days is a real problem.
const staleAfter = 48 * time.Hour

// computeHints derives human-readable data-quality hints from a table entry.
// Hints are ordered: critical first, then warnings, then info.
func computeHints(e *store.Entry, now time.Time) []QualityHint {
	var hints []QualityHint

	if e.Quality.Rows == 0 {
		hints = append(hints, QualityHint{
			Key:   "empty_table",
			Level: "critical",
			Title: "No data",
			Detail: "The last refresh produced zero derived rows. " +
				"Either the upstream feed returned an empty dataset or every row " +
				"failed validation. Check the feed endpoint and the source's column " +
				"or label mappings.",
		})
		return hints // nothing else worth reporting without data
	}

	if age := now.Sub(e.UpdatedAt); age > staleAfter {
		v := age.Hours()
		hints = append(hints, QualityHint{
			Key:   "stale_feed",
			Level: "warning",
			Title: "Feed stale",
			Detail: fmt.Sprintf(
				"This table was last refreshed %.0f hours ago. The upstream feed "+
					"may have moved, changed format, or stopped publishing. Incremental "+
					"counts are still served but no longer reflect recent reports.", v),
			Value: &v,
		})
	}

	if n := e.Quality.CorrectionsSuppressed; n > 0 {
		v := float64(n)
		level := "info"
		// A heavily corrected feed deserves louder attention: the floored
		// days understate the true daily increments around each correction.
		if n > e.Quality.Rows/100 {
			level = "warning"
		}
		hints = append(hints, QualityHint{
			Key:   "corrections_suppressed",
			Level: level,
			Title: "Corrections suppressed",
			Detail: fmt.Sprintf(
				"%d day-over-day decreases in the cumulative count were floored to "+
					"zero. These are upstream reporting corrections; the affected days "+
					"show an incremental count of 0 rather than a negative value.", n),
			Value: &v,
		})
	}

	if n := e.Quality.DuplicatesDropped; n > 0 {
		v := float64(n)
		hints = append(hints, QualityHint{
			Key:   "duplicates_dropped",
			Level: "info",
			Title: "Duplicate dates",
			Detail: fmt.Sprintf(
				"%d observations shared an (entity, date) pair with a later row "+
					"and were replaced by the last-seen value. This usually means the "+
					"feed re-published corrected rows for the same day.", n),
			Value: &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, QualityHint{
			Key:    "clean",
			Level:  "ok",
			Title:  "Clean",
			Detail: "No corrections, duplicates, or staleness detected in the latest refresh.",
		})
	}
	return hints
}
