package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

const githubPageSize = 100

// githubQueries are the repository searches that surface MCP server
// candidates on the code host.
var githubQueries = []string{
	"topic:mcp-server",
	"topic:model-context-protocol",
	`"mcp server" in:name,description`,
}

// GitHub discovers candidates via the repository search API using
// page-numbered pagination. Search requests are paced well under the
// authenticated search quota; a 403/429 ends the sequence early.
type GitHub struct {
	client  *http.Client
	limiter *rate.Limiter
	token   string
	baseURL string
	filters Filters
}

// NewGitHub creates the code-host adapter. The token may be empty, at the
// cost of a much smaller unauthenticated quota.
func NewGitHub(token string, filters Filters) *GitHub {
	return &GitHub{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		token:   token,
		baseURL: "https://api.github.com",
		filters: filters,
	}
}

func (g *GitHub) Name() models.Source { return models.SourceGitHub }

type githubRepo struct {
	ID              int64  `json:"id"`
	FullName        string `json:"full_name"`
	HTMLURL         string `json:"html_url"`
	Description     string `json:"description"`
	StargazersCount int    `json:"stargazers_count"`
	Owner           struct {
		Login string `json:"login"`
	} `json:"owner"`
	Name     string    `json:"name"`
	PushedAt time.Time `json:"pushed_at"`
	Archived bool      `json:"archived"`
}

// FetchBatches yields one batch per search result page, across all queries.
func (g *GitHub) FetchBatches(ctx context.Context, opts FetchOptions) iter.Seq[Batch] {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	return func(yield func(Batch) bool) {
		total := 0
		for _, query := range githubQueries {
			for page := 1; ; page++ {
				if total >= limit {
					return
				}
				if err := g.limiter.Wait(ctx); err != nil {
					return
				}

				batch, done, exhausted := g.fetchPage(ctx, query, page)
				total += batch.Stats.Fetched
				if len(batch.Records) > 0 || batch.Stats.Filtered > 0 || batch.Stats.Errors > 0 {
					if !yield(batch) {
						return
					}
				}
				if exhausted {
					// The quota is shared across queries; retrying the
					// next one would only burn more of it.
					return
				}
				if done {
					break
				}
			}
		}
	}
}

// fetchPage returns one page as a batch; done=true ends pagination for the
// current query (exhausted or errored), exhausted=true ends the whole
// sequence because the search quota is spent.
func (g *GitHub) fetchPage(ctx context.Context, query string, page int) (Batch, bool, bool) {
	batch := Batch{Source: models.SourceGitHub}

	body, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/search/repositories?q=%s&sort=updated&per_page=%d&page=%d",
			g.baseURL, url.QueryEscape(query), githubPageSize, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		return req, nil
	})
	if err != nil {
		// Rate limiting ends the sequence without counting as an error.
		if errors.Is(err, errRateLimited) {
			return batch, true, true
		}
		batch.Stats.Errors++
		return batch, true, false
	}

	var result struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := decodeRepaired(body, &result); err != nil {
		batch.Stats.Errors++
		return batch, true, false
	}

	now := time.Now().UTC()
	for _, raw := range result.Items {
		var repo githubRepo
		if err := decodeRepaired(raw, &repo); err != nil {
			batch.Stats.Errors++
			continue
		}
		batch.Stats.Fetched++

		rec := models.DiscoveredServer{
			CanonicalURL: repo.HTMLURL,
			RepoOwner:    repo.Owner.Login,
			RepoName:     repo.Name,
			DisplayName:  repo.FullName,
			Description:  repo.Description,
			Stars:        repo.StargazersCount,
			Source:       models.SourceGitHub,
			SourceID:     fmt.Sprintf("%d", repo.ID),
			RawPayload:   raw,
			DiscoveredAt: now,
		}
		if repo.Archived || g.filters.Drop(rec, repo.PushedAt) {
			batch.Stats.Filtered++
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	return batch, len(result.Items) < githubPageSize, false
}

// LookupRepo fetches the authoritative view of one repository. Used for
// enrichment and rename detection: the response's full_name is the current
// owner/repo even when the queried path has been renamed.
func (g *GitHub) LookupRepo(ctx context.Context, owner, repo string) (*RepoSummary, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/repos/%s/%s", g.baseURL, owner, repo)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		FullName string    `json:"full_name"`
		HTMLURL  string    `json:"html_url"`
		Stars    int       `json:"stargazers_count"`
		Archived bool      `json:"archived"`
		PushedAt time.Time `json:"pushed_at"`
	}
	if err := decodeRepaired(body, &payload); err != nil {
		return nil, err
	}
	return &RepoSummary{
		FullName: payload.FullName,
		HTMLURL:  payload.HTMLURL,
		Stars:    payload.Stars,
		Archived: payload.Archived,
		PushedAt: payload.PushedAt,
	}, nil
}

// RepoSummary captures the authoritative repository fields used for
// enrichment and rename detection.
type RepoSummary struct {
	FullName string
	HTMLURL  string
	Stars    int
	Archived bool
	PushedAt time.Time
}
