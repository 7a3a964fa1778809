package feed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/derive"
)

const defaultFetchTimeout = 30 * time.Second

// FetchResult is the normalized output of one fetch cycle for a single source.
// Metrics holds raw cumulative observations keyed by metric name — not
// incremental values. The refresh loop hands each metric's observations to
// the deriver.
type FetchResult struct {
	SourceID   string
	SourceType string
	FetchedAt  time.Time

	// Metrics maps metric name ("cases", "deaths") to its observations.
	Metrics map[string][]derive.Observation

	// Err is non-nil if the fetch itself failed (connectivity, auth, parse).
	// The refresh loop logs it and keeps the previous derived tables.
	Err error
}

// Fetcher is the common interface implemented by every feed format.
type Fetcher interface {
	Fetch(ctx context.Context) (*FetchResult, error)

	// Snapshot reports whether each fetch returns the feed's full history.
	// Snapshot feeds replace the source's observation log; point-in-time
	// feeds (prom) append to it.
	Snapshot() bool
}

// New returns the appropriate Fetcher for the given source configuration.
// It builds the HTTP client once and reuses it across fetch calls.
func New(src config.Source) (Fetcher, error) {
	client, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("feed %q: build http client: %w", src.ID, err)
	}
	switch src.Type {
	case "csv":
		return &csvFetcher{src: src, client: client}, nil
	case "prom":
		return &promFetcher{src: src, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("feed: unsupported type %q", src.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	src  config.Source
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.src.Auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.src.Auth.EffectiveHeader(), t.src.Auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.src.Auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.src.Auth.Username, t.src.Auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(src.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", src.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	transport := &authRoundTripper{
		base: &http.Transport{TLSClientConfig: tlsCfg},
		src:  src,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultFetchTimeout,
	}, nil
}

// get performs an HTTP GET and returns the open response body.
// The caller must close the body.
func get(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// newResult initialises an empty FetchResult with the metrics map allocated.
func newResult(sourceID, sourceType string) *FetchResult {
	return &FetchResult{
		SourceID:   sourceID,
		SourceType: sourceType,
		FetchedAt:  time.Now().UTC(),
		Metrics:    make(map[string][]derive.Observation),
	}
}
