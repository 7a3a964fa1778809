package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/casewatch/casewatch/internal/alerts"
	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/derive"
	"github.com/casewatch/casewatch/internal/feed"
	"github.com/casewatch/casewatch/internal/store"
)

// --- fakes ------------------------------------------------------------------

// fakeFetcher replays a scripted sequence of fetch results.
type fakeFetcher struct {
	snapshot bool
	results  []*feed.FetchResult
	errs     []error
	calls    int
}

func (f *fakeFetcher) Snapshot() bool { return f.snapshot }

func (f *fakeFetcher) Fetch(ctx context.Context) (*feed.FetchResult, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	var err error
	if f.errs != nil {
		err = f.errs[i]
	}
	return f.results[i], err
}

// fakeEvaluator records every Stats handed to it.
type fakeEvaluator struct {
	seen []alerts.Stats
}

func (e *fakeEvaluator) Evaluate(st alerts.Stats) { e.seen = append(e.seen, st) }

// fakeRecorder captures history writes and optionally fails them.
type fakeRecorder struct {
	metrics []string
	err     error
}

func (r *fakeRecorder) Record(ctx context.Context, metric string, rows []derive.Derived) error {
	r.metrics = append(r.metrics, metric)
	return r.err
}

// --- helpers ----------------------------------------------------------------

var day = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func okResult(entity string, cums ...int64) *feed.FetchResult {
	res := &feed.FetchResult{
		SourceID:   "test-src",
		SourceType: "csv",
		FetchedAt:  day,
		Metrics:    make(map[string][]derive.Observation),
	}
	for i, c := range cums {
		res.Metrics["cases"] = append(res.Metrics["cases"], derive.Observation{
			Entity: entity, Date: day.AddDate(0, 0, i), Cumulative: c,
		})
	}
	return res
}

func failedResult() *feed.FetchResult {
	return &feed.FetchResult{
		SourceID:   "test-src",
		SourceType: "csv",
		FetchedAt:  day,
		Metrics:    make(map[string][]derive.Observation),
		Err:        errors.New("connection refused"),
	}
}

func newPipeline(f feed.Fetcher, st *store.Store, hist Recorder, al Evaluator) *Pipeline {
	return NewPipeline(config.Source{ID: "test-src", Type: "csv"}, f, st, hist, al)
}

// --- tests ------------------------------------------------------------------

func TestRefresh_PublishesDerivedTable(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{okResult("CA", 100, 150, 140, 200)}}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())

	e, ok := st.Get("cases")
	if !ok {
		t.Fatal("expected cases table in store")
	}
	want := []int64{100, 50, 0, 60}
	if len(e.Rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(e.Rows), len(want))
	}
	for i, w := range want {
		if e.Rows[i].Incremental != w {
			t.Errorf("row %d incremental = %d, want %d", i, e.Rows[i].Incremental, w)
		}
	}
}

func TestRefresh_FailedFetchLeavesTableUntouched(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{
		okResult("CA", 100, 150),
		failedResult(),
	}}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())
	before, ok := st.Get("cases")
	if !ok {
		t.Fatal("expected cases table after first refresh")
	}

	p.Refresh(context.Background())
	after, ok := st.Get("cases")
	if !ok {
		t.Fatal("cases table disappeared after failed refresh")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("failed refresh stamped UpdatedAt: before %v, after %v", before.UpdatedAt, after.UpdatedAt)
	}
	if len(after.Rows) != len(before.Rows) {
		t.Errorf("failed refresh changed rows: before %d, after %d", len(before.Rows), len(after.Rows))
	}
}

func TestRefresh_FetchErrorLeavesTableUntouched(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true,
		results: []*feed.FetchResult{okResult("CA", 100, 150), nil},
		errs:    []error{nil, errors.New("context cancelled")},
	}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())
	before, _ := st.Get("cases")

	p.Refresh(context.Background())
	after, ok := st.Get("cases")
	if !ok {
		t.Fatal("cases table disappeared after fetch error")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("fetch error stamped UpdatedAt: before %v, after %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestRefresh_FailedFetchStillEvaluatesStaleness(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{
		okResult("CA", 100, 150),
		failedResult(),
	}}
	al := &fakeEvaluator{}
	p := newPipeline(f, st, nil, al)
	p.now = fixedClock(day.Add(72 * time.Hour))

	p.Refresh(context.Background())
	p.Refresh(context.Background())

	if len(al.seen) != 2 {
		t.Fatalf("evaluations = %d, want 2 (one per cycle)", len(al.seen))
	}
	last := al.seen[1]
	if last.StalenessHours != 72 {
		t.Errorf("staleness_hours = %v, want 72", last.StalenessHours)
	}
	if last.Rows != 2 || last.Metric != "cases" {
		t.Errorf("failure-path stats = %+v, want last published quality for cases", last)
	}
}

func TestRefresh_PointInTimeFeedAccumulates(t *testing.T) {
	st := store.New(48 * time.Hour)
	day1 := okResult("CA", 100)
	day2 := &feed.FetchResult{
		SourceID: "test-src", SourceType: "prom", FetchedAt: day.AddDate(0, 0, 1),
		Metrics: map[string][]derive.Observation{
			"cases": {{Entity: "CA", Date: day.AddDate(0, 0, 1), Cumulative: 150}},
		},
	}
	f := &fakeFetcher{snapshot: false, results: []*feed.FetchResult{day1, day2}}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())
	p.Refresh(context.Background())

	e, ok := st.Get("cases")
	if !ok {
		t.Fatal("expected cases table")
	}
	if len(e.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (appended across fetches)", len(e.Rows))
	}
	if e.Rows[1].Incremental != 50 {
		t.Errorf("day 2 incremental = %d, want 50", e.Rows[1].Incremental)
	}
}

func TestRefresh_SnapshotFeedReplaces(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{
		okResult("CA", 100, 150, 200),
		okResult("CA", 100, 150),
	}}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())
	p.Refresh(context.Background())

	e, _ := st.Get("cases")
	if len(e.Rows) != 2 {
		t.Errorf("rows = %d, want 2 (snapshot replaces the log)", len(e.Rows))
	}
}

func TestRefresh_RecordsHistory(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{okResult("CA", 100, 150)}}
	rec := &fakeRecorder{}
	p := newPipeline(f, st, rec, nil)

	p.Refresh(context.Background())

	if len(rec.metrics) != 1 || rec.metrics[0] != "cases" {
		t.Errorf("recorded metrics = %v, want [cases]", rec.metrics)
	}
}

func TestRefresh_HistoryErrorDoesNotBlockStore(t *testing.T) {
	st := store.New(48 * time.Hour)
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{okResult("CA", 100, 150)}}
	rec := &fakeRecorder{err: errors.New("disk full")}
	p := newPipeline(f, st, rec, nil)

	p.Refresh(context.Background())

	if _, ok := st.Get("cases"); !ok {
		t.Error("history write failure must not prevent the store update")
	}
}

func TestRefresh_DeriveFailureKeepsPreviousTable(t *testing.T) {
	st := store.New(48 * time.Hour)
	bad := okResult("CA", 100)
	bad.Metrics["cases"] = append(bad.Metrics["cases"], derive.Observation{Entity: "", Date: day, Cumulative: 5})
	f := &fakeFetcher{snapshot: true, results: []*feed.FetchResult{
		okResult("CA", 100, 150),
		bad,
	}}
	p := newPipeline(f, st, nil, nil)

	p.Refresh(context.Background())
	before, _ := st.Get("cases")

	p.Refresh(context.Background())
	after, _ := st.Get("cases")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("a refresh whose derivation fails must not republish the table")
	}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }
