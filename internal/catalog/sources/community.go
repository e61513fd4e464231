package sources

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// Community discovers candidates from the upstream MCP community registry
// using cursor pagination. The registry is treated as a cached snapshot:
// unavailability yields an empty sequence, not a sync failure.
type Community struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	filters Filters
}

// NewCommunity creates the community-registry adapter.
func NewCommunity(filters Filters) *Community {
	return &Community{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL: "https://registry.modelcontextprotocol.io",
		filters: filters,
	}
}

func (c *Community) Name() models.Source { return models.SourceCommunity }

type communityServer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Repository  struct {
		URL string `json:"url"`
	} `json:"repository"`
	Packages []struct {
		RegistryType string `json:"registry_type"`
		Identifier   string `json:"identifier"`
	} `json:"packages"`
}

// FetchBatches yields one batch per registry page until the cursor runs out.
func (c *Community) FetchBatches(ctx context.Context, opts FetchOptions) iter.Seq[Batch] {
	limit := opts.Limit
	if limit <= 0 {
		limit = 2000
	}

	return func(yield func(Batch) bool) {
		total := 0
		cursor := ""
		for {
			if total >= limit {
				return
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}

			batch, next := c.fetchPage(ctx, cursor)
			total += batch.Stats.Fetched
			if len(batch.Records) > 0 || batch.Stats.Filtered > 0 || batch.Stats.Errors > 0 {
				if !yield(batch) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

func (c *Community) fetchPage(ctx context.Context, cursor string) (Batch, string) {
	batch := Batch{Source: models.SourceCommunity}

	body, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		u := c.baseURL + "/v0/servers"
		if cursor != "" {
			u += "?cursor=" + url.QueryEscape(cursor)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		// The registry may simply not be reachable; that is not a sync error.
		return batch, ""
	}

	var result struct {
		Servers  []json.RawMessage `json:"servers"`
		Metadata struct {
			NextCursor string `json:"nextCursor"`
		} `json:"metadata"`
	}
	if err := decodeRepaired(body, &result); err != nil {
		batch.Stats.Errors++
		return batch, ""
	}

	now := time.Now().UTC()
	for _, raw := range result.Servers {
		var srv communityServer
		if err := decodeRepaired(raw, &srv); err != nil {
			batch.Stats.Errors++
			continue
		}
		batch.Stats.Fetched++

		if srv.Repository.URL == "" {
			batch.Stats.Filtered++
			continue
		}

		rec := models.DiscoveredServer{
			CanonicalURL: srv.Repository.URL,
			DisplayName:  srv.Name,
			Description:  srv.Description,
			Version:      srv.Version,
			Source:       models.SourceCommunity,
			SourceID:     srv.Name,
			RawPayload:   raw,
			DiscoveredAt: now,
		}
		for _, pkg := range srv.Packages {
			if pkg.RegistryType == "npm" || pkg.RegistryType == "pypi" {
				rec.PackageRegistry = pkg.RegistryType
				rec.PackageName = pkg.Identifier
				break
			}
		}
		if c.filters.Drop(rec, time.Time{}) {
			batch.Stats.Filtered++
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	return batch, result.Metadata.NextCursor
}
