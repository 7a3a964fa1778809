package derive

import (
	"testing"
	"time"
)

// baseDate is a fixed reference day so all test series are deterministic.
var baseDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// day returns baseDate advanced by n days.
func day(n int) time.Time {
	return baseDate.AddDate(0, 0, n)
}

// obs builds an Observation for entity on day n.
func obs(entity string, n int, cum int64) Observation {
	return Observation{Entity: entity, Date: day(n), Cumulative: cum}
}

// series builds one entity's observations from consecutive daily cumulatives.
func series(entity string, cums ...int64) []Observation {
	out := make([]Observation, len(cums))
	for i, c := range cums {
		out[i] = obs(entity, i, c)
	}
	return out
}

// incrementals extracts the Incremental column for one entity, date order.
func incrementals(t *testing.T, res Result, entity string) []int64 {
	t.Helper()
	var out []int64
	for _, r := range res.Rows {
		if r.Entity == entity {
			out = append(out, r.Incremental)
		}
	}
	return out
}

func mustDerive(t *testing.T, in []Observation) Result {
	t.Helper()
	res, err := Derive(in)
	if err != nil {
		t.Fatalf("Derive: unexpected error: %v", err)
	}
	return res
}

// --- Core differencing behaviour ---

func TestDerive_ClippedFirstDifference(t *testing.T) {
	// The canonical worked example: a correction on day 3 lowers the
	// cumulative from 150 to 140 and must yield an incremental of 0.
	res := mustDerive(t, series("CA", 100, 150, 140, 200))

	got := incrementals(t, res, "CA")
	want := []int64{100, 50, 0, 60}
	if len(got) != len(want) {
		t.Fatalf("rows: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("incremental[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if res.Quality.CorrectionsSuppressed != 1 {
		t.Errorf("CorrectionsSuppressed = %d, want 1", res.Quality.CorrectionsSuppressed)
	}
}

func TestDerive_SingleObservation(t *testing.T) {
	res := mustDerive(t, []Observation{obs("NY", 0, 75)})

	got := incrementals(t, res, "NY")
	if len(got) != 1 || got[0] != 75 {
		t.Fatalf("single-row series: got %v, want [75]", got)
	}
}

func TestDerive_FirstRowEqualsCumulative(t *testing.T) {
	res := mustDerive(t, series("TX", 12, 20, 31))

	if res.Rows[0].Incremental != res.Rows[0].Cumulative {
		t.Errorf("first incremental = %d, want cumulative %d",
			res.Rows[0].Incremental, res.Rows[0].Cumulative)
	}
}

func TestDerive_NeverNegative(t *testing.T) {
	// Repeated corrections — every output must still be >= 0.
	res := mustDerive(t, series("WA", 500, 400, 450, 300, 300))

	for _, r := range res.Rows {
		if r.Incremental < 0 {
			t.Errorf("%s %s: incremental %d < 0", r.Entity, r.Date.Format(DateLayout), r.Incremental)
		}
	}
	if res.Quality.CorrectionsSuppressed != 2 {
		t.Errorf("CorrectionsSuppressed = %d, want 2", res.Quality.CorrectionsSuppressed)
	}
}

func TestDerive_CumulativeReconstruction(t *testing.T) {
	// With a strictly non-decreasing series, prefix sums of the
	// incrementals reproduce the cumulative at each date.
	cums := []int64{10, 10, 25, 60, 61}
	res := mustDerive(t, series("FL", cums...))

	var sum int64
	rows := incrementals(t, res, "FL")
	for i, inc := range rows {
		sum += inc
		if sum != cums[i] {
			t.Errorf("prefix sum through day %d = %d, want %d", i, sum, cums[i])
		}
	}
}

// --- Ordering and independence ---

func TestDerive_InputOrderIrrelevantAcrossEntities(t *testing.T) {
	a := series("AZ", 5, 9, 9, 14)
	b := series("OR", 3, 3, 10)

	forward := mustDerive(t, append(append([]Observation{}, a...), b...))
	reversed := mustDerive(t, append(append([]Observation{}, b...), a...))

	if len(forward.Rows) != len(reversed.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(forward.Rows), len(reversed.Rows))
	}
	for i := range forward.Rows {
		if forward.Rows[i] != reversed.Rows[i] {
			t.Errorf("row %d differs: %+v vs %+v", i, forward.Rows[i], reversed.Rows[i])
		}
	}
}

func TestDerive_UnsortedDatesWithinEntity(t *testing.T) {
	in := []Observation{obs("NM", 2, 30), obs("NM", 0, 10), obs("NM", 1, 18)}
	res := mustDerive(t, in)

	got := incrementals(t, res, "NM")
	want := []int64{10, 8, 12}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("incremental[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDerive_OutputSortedByEntityThenDate(t *testing.T) {
	in := append(series("ZZ", 1, 2), series("AA", 3, 4)...)
	res := mustDerive(t, in)

	for i := 1; i < len(res.Rows); i++ {
		p, c := res.Rows[i-1], res.Rows[i]
		if p.Entity > c.Entity || (p.Entity == c.Entity && p.Date.After(c.Date)) {
			t.Fatalf("rows out of order at %d: %+v before %+v", i, p, c)
		}
	}
}

// --- Duplicate dates ---

func TestDerive_DuplicateDate_LastSeenWins(t *testing.T) {
	in := []Observation{
		obs("GA", 0, 100),
		obs("GA", 1, 150),
		obs("GA", 1, 160), // re-published correction for the same day
		obs("GA", 2, 200),
	}
	res := mustDerive(t, in)

	got := incrementals(t, res, "GA")
	want := []int64{100, 60, 40}
	if len(got) != len(want) {
		t.Fatalf("rows: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("incremental[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if res.Quality.DuplicatesDropped != 1 {
		t.Errorf("DuplicatesDropped = %d, want 1", res.Quality.DuplicatesDropped)
	}
}

// --- Quality bookkeeping ---

func TestDerive_QualityBounds(t *testing.T) {
	in := append(series("CA", 1, 2, 3), obs("NY", 5, 40))
	res := mustDerive(t, in)

	q := res.Quality
	if q.Rows != 4 {
		t.Errorf("Rows = %d, want 4", q.Rows)
	}
	if q.Entities != 2 {
		t.Errorf("Entities = %d, want 2", q.Entities)
	}
	if !q.FirstDate.Equal(day(0)) {
		t.Errorf("FirstDate = %v, want %v", q.FirstDate, day(0))
	}
	if !q.LatestDate.Equal(day(5)) {
		t.Errorf("LatestDate = %v, want %v", q.LatestDate, day(5))
	}
}

func TestDerive_Empty(t *testing.T) {
	res := mustDerive(t, nil)
	if len(res.Rows) != 0 || res.Quality.Rows != 0 {
		t.Errorf("empty input: got %d rows", len(res.Rows))
	}
}

// --- Validation ---

func TestDerive_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   []Observation
	}{
		{"empty entity", []Observation{{Date: day(0), Cumulative: 1}}},
		{"zero date", []Observation{{Entity: "CA", Cumulative: 1}}},
		{"negative cumulative", []Observation{obs("CA", 0, -5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Derive(tc.in); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDerive_DoesNotMutateInput(t *testing.T) {
	in := []Observation{obs("CA", 2, 30), obs("CA", 0, 10), obs("CA", 1, 20)}
	snapshot := append([]Observation{}, in...)

	mustDerive(t, in)

	for i := range in {
		if in[i] != snapshot[i] {
			t.Fatalf("input mutated at %d: %+v, was %+v", i, in[i], snapshot[i])
		}
	}
}

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("x", -5*3600)
	in := time.Date(2026, 3, 10, 23, 30, 0, 0, loc) // 04:30 UTC on the 11th
	got := Day(in)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Day = %v, want %v", got, want)
	}
}
