// Package refresh drives the per-source fetch→derive→publish cycle.
// Each source gets one Pipeline; Run polls them all on a shared ticker.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/casewatch/casewatch/internal/alerts"
	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/derive"
	"github.com/casewatch/casewatch/internal/feed"
	"github.com/casewatch/casewatch/internal/store"
)

// Recorder persists one metric's derived rows. Nil disables history writes.
type Recorder interface {
	Record(ctx context.Context, metric string, rows []derive.Derived) error
}

// Evaluator receives per-metric quality stats after every cycle.
// Nil disables alerting.
type Evaluator interface {
	Evaluate(st alerts.Stats)
}

// Pipeline drives one configured source. It accumulates the source's
// observation log across refreshes, derives per-metric incremental tables,
// and publishes them to the live store, the history backend, and the alert
// engine.
//
// A Pipeline is not safe for concurrent use; Run calls Refresh from a single
// goroutine.
type Pipeline struct {
	src     config.Source
	fetcher feed.Fetcher
	store   *store.Store
	history Recorder
	alerter Evaluator

	// log accumulates observations per metric across refreshes.
	// Snapshot feeds replace it wholesale; point-in-time feeds append.
	log map[string][]derive.Observation

	// lastOK is when the source last fetched successfully; it feeds the
	// staleness_hours alert field.
	lastOK time.Time

	// lastStats remembers the latest published quality stats per metric so
	// staleness rules can be re-evaluated while the feed is down.
	lastStats map[string]alerts.Stats

	now func() time.Time // injectable for deterministic tests
}

// NewPipeline wires one source to its downstream consumers.
// history and alerter may be nil.
func NewPipeline(src config.Source, f feed.Fetcher, st *store.Store, hist Recorder, alerter Evaluator) *Pipeline {
	return &Pipeline{
		src:       src,
		fetcher:   f,
		store:     st,
		history:   hist,
		alerter:   alerter,
		log:       make(map[string][]derive.Observation),
		lastStats: make(map[string]alerts.Stats),
		now:       time.Now,
	}
}

// Refresh runs one fetch→derive→publish cycle.
//
// A failed fetch leaves the source's tables untouched — no re-derive, no
// store write — so their UpdatedAt keeps aging toward TTL eviction and the
// staleness quality hint. Only the alert rules are re-evaluated, with
// staleness_hours measured from the last successful fetch.
func (p *Pipeline) Refresh(ctx context.Context) {
	fetched := false
	res, err := p.fetcher.Fetch(ctx)
	switch {
	case err != nil:
		slog.Warn("refresh: fetch error", "source", p.src.ID, "err", err)
	case res.Err != nil:
		slog.Warn("refresh: fetch failed — keeping previous tables", "source", p.src.ID, "err", res.Err)
	default:
		for metric, obs := range res.Metrics {
			if p.fetcher.Snapshot() {
				p.log[metric] = obs
			} else {
				p.log[metric] = append(p.log[metric], obs...)
			}
		}
		p.lastOK = res.FetchedAt
		fetched = true
	}

	staleness := 0.0
	if !p.lastOK.IsZero() {
		staleness = p.now().Sub(p.lastOK).Hours()
	}

	if !fetched {
		if p.alerter != nil {
			for _, st := range p.lastStats {
				st.StalenessHours = staleness
				p.alerter.Evaluate(st)
			}
		}
		return
	}

	for metric, obs := range p.log {
		result, err := derive.Derive(obs)
		if err != nil {
			slog.Warn("refresh: derivation failed", "source", p.src.ID, "metric", metric, "err", err)
			continue
		}
		// Compact the accumulated log to one observation per (entity, day)
		// so point-in-time feeds don't grow it without bound.
		p.log[metric] = compact(result.Rows)

		p.store.Put(metric, p.src.ID, result)
		if p.history != nil {
			if err := p.history.Record(ctx, metric, result.Rows); err != nil {
				slog.Warn("refresh: history write failed", "metric", metric, "err", err)
			}
		}

		st := alerts.Stats{
			Metric:                metric,
			SourceID:              p.src.ID,
			Rows:                  result.Quality.Rows,
			Entities:              result.Quality.Entities,
			CorrectionsSuppressed: result.Quality.CorrectionsSuppressed,
			DuplicatesDropped:     result.Quality.DuplicatesDropped,
			StalenessHours:        staleness,
		}
		p.lastStats[metric] = st
		if p.alerter != nil {
			p.alerter.Evaluate(st)
		}

		slog.Debug("refresh: table refreshed",
			"source", p.src.ID,
			"metric", metric,
			"rows", result.Quality.Rows,
			"entities", result.Quality.Entities,
		)
	}
}

// Run refreshes all pipelines immediately, then on every interval tick.
// It blocks until ctx is cancelled.
func Run(ctx context.Context, pipelines []*Pipeline, interval time.Duration) {
	for _, p := range pipelines {
		p.Refresh(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pipelines {
				p.Refresh(ctx)
			}
		}
	}
}

// compact rebuilds a deduplicated observation log from derived rows.
func compact(rows []derive.Derived) []derive.Observation {
	out := make([]derive.Observation, 0, len(rows))
	for _, d := range rows {
		out = append(out, derive.Observation{
			Entity:     d.Entity,
			Date:       d.Date,
			Cumulative: d.Cumulative,
		})
	}
	return out
}
