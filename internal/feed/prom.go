package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/derive"
)

// promFetcher reads cumulative counts republished as Prometheus counters,
// one metric family per metric with the entity carried in a label, e.g.
//
//	covid_cases_cumulative{state="CA"} 184305 1716422400000
//
// Each fetch yields one observation per (entity, metric), dated by the
// sample timestamp when present, otherwise by the fetch day. Repeated
// same-day fetches produce duplicate dates; the deriver's last-seen rule
// resolves them.
type promFetcher struct {
	src    config.Source
	client *http.Client
	now    func() time.Time // injectable for deterministic tests
}

// Snapshot is false: the exposition only carries current counter values, so
// the refresh loop appends each fetch to the source's observation log.
func (f *promFetcher) Snapshot() bool { return false }

func (f *promFetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	res := newResult(f.src.ID, "prom")

	resp, err := get(ctx, f.client, f.src.Endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		res.Err = fmt.Errorf("prom fetch %q: %w", f.src.ID, err)
		slog.Warn("feed: prom fetch failed", "source", f.src.ID, "err", err)
		return res, nil
	}
	defer resp.Body.Close()

	mfs, err := parseExposition(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("prom fetch %q: %w", f.src.ID, err)
		slog.Warn("feed: prom parse failed", "source", f.src.ID, "err", err)
		return res, nil
	}

	fetchDay := derive.Day(f.now())
	label := f.src.EffectiveEntityLabel()

	for metric, family := range f.src.Metrics {
		mf, ok := mfs[family]
		if !ok {
			res.Err = fmt.Errorf("prom fetch %q: metric family %q not exposed", f.src.ID, family)
			slog.Warn("feed: metric family missing", "source", f.src.ID, "family", family)
			res.Metrics = make(map[string][]derive.Observation)
			return res, nil
		}
		obs, err := observationsOf(mf, label, fetchDay)
		if err != nil {
			res.Err = fmt.Errorf("prom fetch %q: family %q: %w", f.src.ID, family, err)
			slog.Warn("feed: prom samples malformed", "source", f.src.ID, "family", family, "err", err)
			res.Metrics = make(map[string][]derive.Observation)
			return res, nil
		}
		res.Metrics[metric] = obs
	}
	return res, nil
}

// parseExposition decodes a Prometheus text exposition from r into metric
// families. A partial result with a non-fatal parse warning is still
// returned successfully.
func parseExposition(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// observationsOf extracts one Observation per sample in mf, keyed by the
// entity label. Samples without the entity label are a malformed feed.
func observationsOf(mf *dto.MetricFamily, entityLabel string, fetchDay time.Time) ([]derive.Observation, error) {
	out := make([]derive.Observation, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		var entity string
		for _, lp := range m.GetLabel() {
			if lp.GetName() == entityLabel {
				entity = lp.GetValue()
				break
			}
		}
		if entity == "" {
			return nil, fmt.Errorf("sample missing %q label", entityLabel)
		}

		var value float64
		switch {
		case m.Counter != nil:
			value = m.Counter.GetValue()
		case m.Gauge != nil:
			value = m.Gauge.GetValue()
		case m.Untyped != nil:
			value = m.Untyped.GetValue()
		default:
			return nil, fmt.Errorf("sample for %q has no scalar value", entity)
		}

		date := fetchDay
		if ts := m.GetTimestampMs(); ts != 0 {
			date = derive.Day(time.UnixMilli(ts))
		}

		out = append(out, derive.Observation{
			Entity:     entity,
			Date:       date,
			Cumulative: int64(value),
		})
	}
	return out, nil
}
