//nolint:testpackage
package syncer

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/jobs"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sources"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

type fakeAdapter struct {
	source  models.Source
	batches []sources.Batch
}

func (a *fakeAdapter) Name() models.Source { return a.source }

func (a *fakeAdapter) FetchBatches(context.Context, sources.FetchOptions) iter.Seq[sources.Batch] {
	return func(yield func(sources.Batch) bool) {
		for _, batch := range a.batches {
			if !yield(batch) {
				return
			}
		}
	}
}

type fakeLookup struct {
	summaries map[string]*sources.RepoSummary
}

func (l *fakeLookup) LookupRepo(_ context.Context, owner, repo string) (*sources.RepoSummary, error) {
	if s, ok := l.summaries[owner+"/"+repo]; ok {
		return s, nil
	}
	return nil, context.Canceled
}

type fakeRevalidator struct {
	ids []string
}

func (r *fakeRevalidator) EnqueueRevalidation(_ context.Context, canonicalID string) (*models.ValidationRequest, error) {
	r.ids = append(r.ids, canonicalID)
	return &models.ValidationRequest{ID: "req", CanonicalID: canonicalID}, nil
}

func githubRecord(stars int) models.DiscoveredServer {
	return models.DiscoveredServer{
		CanonicalURL: "https://github.com/Acme/Widget",
		RepoOwner:    "Acme",
		RepoName:     "Widget",
		DisplayName:  "Acme/Widget",
		Stars:        stars,
		Source:       models.SourceGitHub,
		SourceID:     "1001",
		DiscoveredAt: time.Now().UTC(),
	}
}

func npmRecord(version string) models.DiscoveredServer {
	return models.DiscoveredServer{
		CanonicalURL:    "git+https://github.com/acme/widget.git",
		DisplayName:     "@acme/widget-server",
		Version:         version,
		PackageRegistry: "npm",
		PackageName:     "@acme/widget-server",
		RunCommand:      "npx -y @acme/widget-server",
		Downloads:       9000,
		Source:          models.SourceNPM,
		SourceID:        "@acme/widget-server",
		DiscoveredAt:    time.Now().UTC(),
	}
}

func newSyncer(store database.Store, adapters []sources.Adapter, lookup RepoLookup, revalidator Revalidator) *Syncer {
	return New(store, adapters, lookup, revalidator, jobs.NewManager(), nil, time.Hour)
}

func TestCycle_MergesAcrossSources(t *testing.T) {
	store := database.NewFake()
	adapters := []sources.Adapter{
		&fakeAdapter{source: models.SourceGitHub, batches: []sources.Batch{{
			Source:  models.SourceGitHub,
			Records: []models.DiscoveredServer{githubRecord(500)},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
		&fakeAdapter{source: models.SourceNPM, batches: []sources.Batch{{
			Source:  models.SourceNPM,
			Records: []models.DiscoveredServer{npmRecord("2.1.0")},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
	}

	s := newSyncer(store, adapters, nil, nil)
	result, err := s.Cycle(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsFetched)
	assert.Equal(t, 1, result.ServersMerged)

	// Both URL spellings land on one canonical identity.
	server, err := store.GetMergedServer(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, 500, server.Stars)
	assert.Equal(t, "2.1.0", server.Version)
	assert.Equal(t, "@acme/widget-server", server.PackageName)
	assert.Len(t, server.Sources, 2)
}

func TestCycle_EnrichesGroupsWithoutCodeHostRecord(t *testing.T) {
	store := database.NewFake()
	adapters := []sources.Adapter{
		&fakeAdapter{source: models.SourceNPM, batches: []sources.Batch{{
			Source:  models.SourceNPM,
			Records: []models.DiscoveredServer{npmRecord("1.0.0")},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
	}
	lookup := &fakeLookup{summaries: map[string]*sources.RepoSummary{
		"acme/widget": {
			FullName: "acme/widget",
			HTMLURL:  "https://github.com/acme/widget",
			Stars:    321,
		},
	}}

	s := newSyncer(store, adapters, lookup, nil)
	_, err := s.Cycle(context.Background(), "")
	require.NoError(t, err)

	server, err := store.GetMergedServer(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, 321, server.Stars)
}

func TestCycle_RekeysRenamedRepository(t *testing.T) {
	ctx := context.Background()
	store := database.NewFake()
	// A previous cycle stored the old identity.
	require.NoError(t, store.UpsertMergedServer(ctx, &models.MergedServer{
		CanonicalID: "https://github.com/acme/widget",
		DisplayName: "widget",
	}))

	adapters := []sources.Adapter{
		&fakeAdapter{source: models.SourceNPM, batches: []sources.Batch{{
			Source:  models.SourceNPM,
			Records: []models.DiscoveredServer{npmRecord("1.0.0")},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
	}
	lookup := &fakeLookup{summaries: map[string]*sources.RepoSummary{
		"acme/widget": {
			FullName: "acme/widget-mcp",
			HTMLURL:  "https://github.com/acme/widget-mcp",
			Stars:    50,
		},
	}}

	s := newSyncer(store, adapters, lookup, nil)
	result, err := s.Cycle(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ServersDeleted)

	_, err = store.GetMergedServer(ctx, "https://github.com/acme/widget")
	assert.ErrorIs(t, err, database.ErrNotFound)

	server, err := store.GetMergedServer(ctx, "https://github.com/acme/widget-mcp")
	require.NoError(t, err)
	assert.Equal(t, 50, server.Stars)
	assert.Equal(t, "1.0.0", server.Version)
}

func TestCycle_DropsArchivedRepositories(t *testing.T) {
	store := database.NewFake()
	adapters := []sources.Adapter{
		&fakeAdapter{source: models.SourceNPM, batches: []sources.Batch{{
			Source:  models.SourceNPM,
			Records: []models.DiscoveredServer{npmRecord("1.0.0")},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
	}
	lookup := &fakeLookup{summaries: map[string]*sources.RepoSummary{
		"acme/widget": {
			FullName: "acme/widget",
			HTMLURL:  "https://github.com/acme/widget",
			Archived: true,
		},
	}}

	s := newSyncer(store, adapters, lookup, nil)
	result, err := s.Cycle(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 0, result.ServersMerged)
	assert.Equal(t, 1, result.RecordsFiltered)
	_, err = store.GetMergedServer(context.Background(), "https://github.com/acme/widget")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCycle_EnqueuesRevalidationOnVersionAdvance(t *testing.T) {
	ctx := context.Background()
	store := database.NewFake()
	require.NoError(t, store.UpsertMergedServer(ctx, &models.MergedServer{
		CanonicalID: "https://github.com/acme/widget",
		DisplayName: "widget",
		Version:     "1.0.0",
	}))
	require.NoError(t, store.ApplyValidationOutcome(ctx, "https://github.com/acme/widget", &models.ValidationResult{
		Success: true,
	}))

	adapters := []sources.Adapter{
		&fakeAdapter{source: models.SourceGitHub, batches: []sources.Batch{{
			Source:  models.SourceGitHub,
			Records: []models.DiscoveredServer{githubRecord(10)},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
		&fakeAdapter{source: models.SourceNPM, batches: []sources.Batch{{
			Source:  models.SourceNPM,
			Records: []models.DiscoveredServer{npmRecord("2.0.0")},
			Stats:   sources.BatchStats{Fetched: 1},
		}}},
	}
	revalidator := &fakeRevalidator{}

	s := newSyncer(store, adapters, nil, revalidator)
	result, err := s.Cycle(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.RevalidationsQueued)
	assert.Equal(t, []string{"https://github.com/acme/widget"}, revalidator.ids)
}
