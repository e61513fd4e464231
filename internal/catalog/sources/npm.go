package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

const npmPageSize = 250

var npmQueries = []string{
	"mcp-server",
	"model context protocol",
	"@modelcontextprotocol",
}

// NPM discovers candidates from the npm search API using offset pagination.
// Packages without a resolvable repository link are filtered: the canonical
// identity is the repository, not the package.
type NPM struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	filters Filters
}

// NewNPM creates the package-index adapter.
func NewNPM(filters Filters) *NPM {
	return &NPM{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL: "https://registry.npmjs.org",
		filters: filters,
	}
}

func (n *NPM) Name() models.Source { return models.SourceNPM }

type npmSearchObject struct {
	Package struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
		Links       struct {
			Repository string `json:"repository"`
		} `json:"links"`
	} `json:"package"`
	Downloads struct {
		Weekly int64 `json:"weekly"`
	} `json:"downloads"`
}

// FetchBatches yields one batch per search page, across all queries.
func (n *NPM) FetchBatches(ctx context.Context, opts FetchOptions) iter.Seq[Batch] {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	return func(yield func(Batch) bool) {
		total := 0
		for _, query := range npmQueries {
			for from := 0; ; from += npmPageSize {
				if total >= limit {
					return
				}
				if err := n.limiter.Wait(ctx); err != nil {
					return
				}

				batch, done := n.fetchPage(ctx, query, from)
				total += batch.Stats.Fetched
				if len(batch.Records) > 0 || batch.Stats.Filtered > 0 || batch.Stats.Errors > 0 {
					if !yield(batch) {
						return
					}
				}
				if done {
					break
				}
			}
		}
	}
}

func (n *NPM) fetchPage(ctx context.Context, query string, from int) (Batch, bool) {
	batch := Batch{Source: models.SourceNPM}

	body, err := doWithRetry(ctx, n.client, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d&from=%d",
			n.baseURL, url.QueryEscape(query), npmPageSize, from)
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		batch.Stats.Errors++
		return batch, true
	}

	var result struct {
		Objects []json.RawMessage `json:"objects"`
	}
	if err := decodeRepaired(body, &result); err != nil {
		batch.Stats.Errors++
		return batch, true
	}

	now := time.Now().UTC()
	for _, raw := range result.Objects {
		var obj npmSearchObject
		if err := decodeRepaired(raw, &obj); err != nil {
			batch.Stats.Errors++
			continue
		}
		batch.Stats.Fetched++

		pkg := obj.Package
		if pkg.Links.Repository == "" {
			batch.Stats.Filtered++
			continue
		}

		rec := models.DiscoveredServer{
			CanonicalURL:    pkg.Links.Repository,
			DisplayName:     pkg.Name,
			Description:     pkg.Description,
			Version:         pkg.Version,
			PackageRegistry: "npm",
			PackageName:     pkg.Name,
			RunCommand:      "npx -y " + pkg.Name,
			Downloads:       obj.Downloads.Weekly,
			Source:          models.SourceNPM,
			SourceID:        pkg.Name,
			RawPayload:      raw,
			DiscoveredAt:    now,
		}
		if n.filters.Drop(rec, time.Time{}) {
			batch.Stats.Filtered++
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	return batch, len(result.Objects) < npmPageSize
}
