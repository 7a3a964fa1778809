// Package feed fetches upstream case-count feeds and normalizes them into
// cumulative observations for the deriver.
//
// Two feed formats are supported: csv (full-history snapshot files in the
// NYT us-states.csv layout) and prom (cumulative counters republished as a
// Prometheus text exposition, entity in a label). Factory: New(config.Source)
// returns the correct Fetcher.
//
// A fetch that fails (connectivity, auth, parse) returns a FetchResult with
// Err set rather than an error, so the refresh loop can log and keep the
// previous derived tables. Authentication (mTLS, API key, bearer, basic) is
// handled by the shared authRoundTripper in base.go; individual fetchers
// receive a pre-configured *http.Client from New().
package feed
