// Package sources discovers candidate MCP servers from independent external
// origins. Each adapter is a lazy, finite producer of record batches with
// its own pagination scheme and quality filters; filtered items are counted,
// never silently dropped.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/jsonc"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// BatchStats counts what happened while producing one batch.
type BatchStats struct {
	Fetched  int `json:"fetched"`
	Filtered int `json:"filtered"`
	Errors   int `json:"errors"`
}

// Batch is one page of discovered records plus its counts.
type Batch struct {
	Source  models.Source
	Records []models.DiscoveredServer
	Stats   BatchStats
}

// FetchOptions tunes one invocation of FetchBatches.
type FetchOptions struct {
	// Limit caps the total number of records fetched; zero means the
	// adapter's own default.
	Limit int
	// ForceRefresh bypasses any cached snapshot the adapter keeps.
	ForceRefresh bool
}

// Adapter is the contract every source implements. The returned sequence is
// finite and need not be resumable across invocations. Adapters pace their
// own requests; on a rate-limit signal they stop early rather than failing
// the whole sync.
type Adapter interface {
	Name() models.Source
	FetchBatches(ctx context.Context, opts FetchOptions) iter.Seq[Batch]
}

// Filters are the source-independent quality gates applied before a record
// is yielded.
type Filters struct {
	MinStars     int
	StaleAfter   time.Duration
	ExcludeNames []string
	ExcludeRepos map[string]struct{}
}

// Drop reports whether a record fails the quality gates. pushedAt is the
// source's last-activity timestamp; the zero value skips the staleness check.
func (f Filters) Drop(rec models.DiscoveredServer, pushedAt time.Time) bool {
	if rec.Stars < f.MinStars && rec.Source == models.SourceGitHub {
		return true
	}
	if f.StaleAfter > 0 && !pushedAt.IsZero() && time.Since(pushedAt) > f.StaleAfter {
		return true
	}
	name := strings.ToLower(rec.DisplayName)
	for _, pattern := range f.ExcludeNames {
		if pattern != "" && strings.Contains(name, strings.ToLower(pattern)) {
			return true
		}
	}
	if _, ok := f.ExcludeRepos[strings.ToLower(rec.CanonicalURL)]; ok {
		return true
	}
	return false
}

// errRateLimited signals the adapter should end its sequence early.
var errRateLimited = errors.New("sources: upstream rate limit reached")

// decodeRepaired unmarshals an upstream JSON payload, repairing common
// malformations (comments, trailing commas, unquoted keys) best-effort
// before giving up on the page.
func decodeRepaired(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

// doWithRetry issues the request, retrying transient network and 5xx
// failures. A 403/429 is returned as errRateLimited and never retried.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			return nil, backoff.Permanent(errRateLimited)
		case resp.StatusCode >= 500:
			return nil, errors.New("sources: upstream status " + resp.Status)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(errors.New("sources: upstream status " + resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
}

// maxResponseBytes bounds a single upstream page.
const maxResponseBytes = 8 << 20
