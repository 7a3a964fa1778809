package derive

import (
	"fmt"
	"sort"
	"time"
)

// Observation is one reported cumulative count for one entity on one date.
// Date carries day precision only; callers should truncate to UTC midnight
// (feed parsers do this already).
type Observation struct {
	Entity     string
	Date       time.Time
	Cumulative int64
}

// Derived is an Observation together with its daily incremental count.
type Derived struct {
	Entity      string
	Date        time.Time
	Cumulative  int64
	Incremental int64
}

// Quality summarises data-quality signals collected during one derivation.
// It feeds the quality API endpoint and the alert engine.
type Quality struct {
	// Rows is the number of derived rows produced.
	Rows int

	// Entities is the number of distinct entity series.
	Entities int

	// CorrectionsSuppressed counts negative raw differences that were
	// floored to zero. Upstream feeds publish corrections as lowered
	// cumulative totals; flooring them is deliberate, this counter makes
	// the suppression visible without changing the output.
	CorrectionsSuppressed int

	// DuplicatesDropped counts observations discarded because a later
	// observation for the same (entity, date) replaced them.
	DuplicatesDropped int

	// FirstDate and LatestDate bound the dates seen across all entities.
	// Zero when Rows == 0.
	FirstDate  time.Time
	LatestDate time.Time
}

// Result is the output of one derivation pass.
type Result struct {
	Rows    []Derived
	Quality Quality
}

// Derive turns cumulative observations into daily incremental counts.
//
// Observations are grouped by entity and sorted by date ascending. Within
// each series the incremental count is the first difference of the
// cumulative count, floored at zero; the first observation of a series has
// no predecessor and its incremental count equals its cumulative count.
//
// Duplicate (entity, date) pairs are resolved deterministically: the
// last-seen observation in input order wins, and each discarded one is
// counted in Quality.DuplicatesDropped. Negative raw differences are not
// errors — they are floored and counted in Quality.CorrectionsSuppressed.
//
// Output rows are ordered by entity ascending, then date ascending, so the
// result is independent of input permutation across entities.
//
// Derive is pure: it never mutates its input and has no side effects.
func Derive(obs []Observation) (Result, error) {
	if err := validate(obs); err != nil {
		return Result{}, err
	}

	groups := make(map[string][]Observation)
	for _, o := range obs {
		groups[o.Entity] = append(groups[o.Entity], o)
	}

	entities := make([]string, 0, len(groups))
	for e := range groups {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	var res Result
	res.Rows = make([]Derived, 0, len(obs))
	res.Quality.Entities = len(entities)

	for _, entity := range entities {
		series := groups[entity]

		// Stable sort keeps input order among equal dates so the trailing
		// observation of a duplicate run is the last-seen one.
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})

		var prev int64
		hasPrev := false
		for i, o := range series {
			// Skip all but the last observation of a same-date run.
			if i+1 < len(series) && series[i+1].Date.Equal(o.Date) {
				res.Quality.DuplicatesDropped++
				continue
			}

			inc := o.Cumulative
			if hasPrev {
				inc = o.Cumulative - prev
				if inc < 0 {
					inc = 0
					res.Quality.CorrectionsSuppressed++
				}
			}
			prev = o.Cumulative
			hasPrev = true

			res.Rows = append(res.Rows, Derived{
				Entity:      o.Entity,
				Date:        o.Date,
				Cumulative:  o.Cumulative,
				Incremental: inc,
			})

			if res.Quality.FirstDate.IsZero() || o.Date.Before(res.Quality.FirstDate) {
				res.Quality.FirstDate = o.Date
			}
			if o.Date.After(res.Quality.LatestDate) {
				res.Quality.LatestDate = o.Date
			}
		}
	}

	res.Quality.Rows = len(res.Rows)
	return res, nil
}

// validate rejects malformed observations before derivation starts.
// A single bad row fails the whole pass — partial recovery would leave the
// derived table silently missing data.
func validate(obs []Observation) error {
	for i, o := range obs {
		if o.Entity == "" {
			return fmt.Errorf("derive: observation %d: empty entity", i)
		}
		if o.Date.IsZero() {
			return fmt.Errorf("derive: observation %d (%s): zero date", i, o.Entity)
		}
		if o.Cumulative < 0 {
			return fmt.Errorf("derive: observation %d (%s %s): negative cumulative count %d",
				i, o.Entity, o.Date.Format(DateLayout), o.Cumulative)
		}
	}
	return nil
}

// DateLayout is the canonical date format used across feeds, the API, and
// the history store.
const DateLayout = "2006-01-02"

// Day truncates t to UTC midnight, the canonical Observation date value.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
