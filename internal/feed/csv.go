package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/derive"
)

// csvFetcher reads a full-history CSV feed of cumulative counts, one row per
// (entity, date) with one column per metric. The NYT us-states.csv layout
// (date,state,fips,cases,deaths) is the canonical shape.
type csvFetcher struct {
	src    config.Source
	client *http.Client
}

// Snapshot is true: every fetch returns the feed's complete history, so the
// refresh loop replaces the source's observation log rather than appending.
func (f *csvFetcher) Snapshot() bool { return true }

// Fetch downloads and parses the CSV feed.
//
// A malformed row (missing column, unparseable date or count) fails the
// whole fetch — a partially parsed history would derive bogus incrementals
// for every date after the gap.
func (f *csvFetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	res := newResult(f.src.ID, "csv")

	resp, err := get(ctx, f.client, f.src.Endpoint, "text/csv")
	if err != nil {
		res.Err = fmt.Errorf("csv fetch %q: %w", f.src.ID, err)
		slog.Warn("feed: csv fetch failed", "source", f.src.ID, "err", err)
		return res, nil
	}
	defer resp.Body.Close()

	if err := f.parse(resp.Body, res); err != nil {
		res.Err = fmt.Errorf("csv fetch %q: %w", f.src.ID, err)
		slog.Warn("feed: csv parse failed", "source", f.src.ID, "err", err)
		res.Metrics = make(map[string][]derive.Observation)
	}
	return res, nil
}

func (f *csvFetcher) parse(r io.Reader, res *FetchResult) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	entityIdx, ok := col[f.src.EffectiveEntityColumn()]
	if !ok {
		return fmt.Errorf("missing entity column %q", f.src.EffectiveEntityColumn())
	}
	dateIdx, ok := col[f.src.EffectiveDateColumn()]
	if !ok {
		return fmt.Errorf("missing date column %q", f.src.EffectiveDateColumn())
	}

	metricIdx := make(map[string]int, len(f.src.Metrics))
	for metric, column := range f.src.Metrics {
		idx, ok := col[column]
		if !ok {
			return fmt.Errorf("metric %q: missing column %q", metric, column)
		}
		metricIdx[metric] = idx
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		entity := rec[entityIdx]
		if entity == "" {
			return fmt.Errorf("line %d: empty entity", line)
		}
		date, err := time.Parse(derive.DateLayout, rec[dateIdx])
		if err != nil {
			return fmt.Errorf("line %d: parse date %q: %w", line, rec[dateIdx], err)
		}

		for metric, idx := range metricIdx {
			cum, err := strconv.ParseInt(rec[idx], 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: metric %q: parse count %q: %w", line, metric, rec[idx], err)
			}
			res.Metrics[metric] = append(res.Metrics[metric], derive.Observation{
				Entity:     entity,
				Date:       date,
				Cumulative: cum,
			})
		}
	}
	return nil
}
