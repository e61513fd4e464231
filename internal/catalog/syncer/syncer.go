// Package syncer runs the discovery pipeline: fetch from every source,
// normalize identities, enrich from the code host, merge, and persist.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/canonical"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/jobs"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/merge"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sources"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/telemetry"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// defaultEnrichConcurrency bounds parallel repository lookups so a large
// cycle does not burn the code-host quota in one burst.
const defaultEnrichConcurrency = 8

// RepoLookup resolves the authoritative state of one repository. Satisfied
// by the GitHub adapter; nil disables enrichment.
type RepoLookup interface {
	LookupRepo(ctx context.Context, owner, repo string) (*sources.RepoSummary, error)
}

// Revalidator enqueues a conformance re-check when a verified server's
// published version moves.
type Revalidator interface {
	EnqueueRevalidation(ctx context.Context, canonicalID string) (*models.ValidationRequest, error)
}

// Syncer owns the periodic discovery cycle.
type Syncer struct {
	store       database.Store
	adapters    []sources.Adapter
	lookup      RepoLookup
	revalidator Revalidator
	manager     *jobs.Manager
	metrics     *telemetry.Metrics
	interval    time.Duration

	// EnrichConcurrency is the worker pool size for per-candidate repository
	// lookups. Zero or negative values fall back to the default.
	EnrichConcurrency int
}

// New wires a syncer. lookup and revalidator may be nil.
func New(store database.Store, adapters []sources.Adapter, lookup RepoLookup, revalidator Revalidator, manager *jobs.Manager, metrics *telemetry.Metrics, interval time.Duration) *Syncer {
	return &Syncer{
		store:       store,
		adapters:    adapters,
		lookup:      lookup,
		revalidator: revalidator,
		manager:     manager,
		metrics:     metrics,
		interval:    interval,
	}
}

// Run executes cycles on the configured interval until the context ends.
func (s *Syncer) Run(ctx context.Context, syncOnStartup bool) {
	if syncOnStartup {
		s.runTracked(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTracked(ctx)
		}
	}
}

// Trigger starts one cycle in the background and returns its job handle.
func (s *Syncer) Trigger(ctx context.Context) (*jobs.Job, error) {
	job, err := s.manager.Begin()
	if err != nil {
		return nil, err
	}
	go s.execute(context.WithoutCancel(ctx), job.ID)
	return job, nil
}

// Job exposes job lookup for the API layer.
func (s *Syncer) Job(id jobs.JobID) (*jobs.Job, error) {
	return s.manager.Get(id)
}

func (s *Syncer) runTracked(ctx context.Context) {
	job, err := s.manager.Begin()
	if err != nil {
		log.Printf("sync cycle skipped: %v", err)
		return
	}
	s.execute(ctx, job.ID)
}

func (s *Syncer) execute(ctx context.Context, jobID jobs.JobID) {
	_ = s.manager.Start(jobID)
	result, err := s.Cycle(ctx, jobID)
	if err != nil {
		_ = s.manager.Fail(jobID, err.Error())
		log.Printf("sync cycle %s failed: %v", jobID, err)
		return
	}
	_ = s.manager.Complete(jobID, result)
	log.Printf("sync cycle %s: fetched=%d filtered=%d errors=%d merged=%d deleted=%d revalidations=%d",
		jobID, result.RecordsFetched, result.RecordsFiltered, result.SourceErrors,
		result.ServersMerged, result.ServersDeleted, result.RevalidationsQueued)
}

// Cycle runs one full discovery pass. Sources are consumed sequentially;
// failures in one source never abort the others.
func (s *Syncer) Cycle(ctx context.Context, jobID jobs.JobID) (*jobs.JobResult, error) {
	result := &jobs.JobResult{}
	groups := make(map[string][]models.DiscoveredServer)

	for _, adapter := range s.adapters {
		source := string(adapter.Name())
		for batch := range adapter.FetchBatches(ctx, sources.FetchOptions{}) {
			result.RecordsFetched += batch.Stats.Fetched
			result.RecordsFiltered += batch.Stats.Filtered
			result.SourceErrors += batch.Stats.Errors
			if s.metrics != nil {
				s.metrics.RecordsFetched.WithLabelValues(source).Add(float64(batch.Stats.Fetched))
				s.metrics.RecordsFiltered.WithLabelValues(source).Add(float64(batch.Stats.Filtered))
				s.metrics.SourceErrors.WithLabelValues(source).Add(float64(batch.Stats.Errors))
			}

			for _, rec := range batch.Records {
				identity, ok := canonical.Normalize(rec.CanonicalURL)
				if !ok {
					result.RecordsFiltered++
					continue
				}
				groups[identity] = append(groups[identity], rec)
			}

			if jobID != "" {
				_ = s.manager.UpdateProgress(jobID, jobs.JobProgress{
					RecordsFetched:  result.RecordsFetched,
					RecordsFiltered: result.RecordsFiltered,
					SourceErrors:    result.SourceErrors,
				})
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	deleted, err := s.enrich(ctx, groups, result)
	if err != nil {
		return result, err
	}
	result.ServersDeleted = deleted

	for identity, records := range groups {
		merged := merge.Group(identity, records)

		previous, err := s.store.GetMergedServer(ctx, identity)
		versionMoved := err == nil &&
			previous.Conformance == models.ConformanceVerified &&
			previous.Version != "" && merged.Version != "" &&
			previous.Version != merged.Version

		if err := s.store.UpsertMergedServer(ctx, &merged); err != nil {
			return result, fmt.Errorf("upsert %s: %w", identity, err)
		}
		result.ServersMerged++

		if versionMoved && s.revalidator != nil {
			if _, err := s.revalidator.EnqueueRevalidation(ctx, identity); err != nil {
				log.Printf("enqueue revalidation for %s: %v", identity, err)
			} else {
				result.RevalidationsQueued++
			}
		}
	}

	if s.metrics != nil {
		s.metrics.ServersMerged.Set(float64(result.ServersMerged))
		s.metrics.SyncCycles.Inc()
	}
	return result, nil
}

// enrich resolves each group against the code host: groups without a
// github record gain authoritative stars, renamed repositories are re-keyed
// to their current identity, and archived ones are dropped. Returns the
// number of stale canonical rows deleted after re-keying.
func (s *Syncer) enrich(ctx context.Context, groups map[string][]models.DiscoveredServer, result *jobs.JobResult) (int, error) {
	if s.lookup == nil {
		return 0, nil
	}

	type rekey struct {
		from, to string
		extra    models.DiscoveredServer
	}
	type addition struct {
		identity string
		extra    models.DiscoveredServer
	}

	// Goroutines only record decisions; the map is mutated after Wait.
	var mu sync.Mutex
	var rekeys []rekey
	var additions []addition
	var drops []string

	concurrency := s.EnrichConcurrency
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for identity, records := range groups {
		hasGitHub := false
		for _, rec := range records {
			if rec.Source == models.SourceGitHub {
				hasGitHub = true
				break
			}
		}
		if hasGitHub {
			continue
		}
		owner, repo, ok := canonical.Split(identity)
		if !ok {
			continue
		}

		g.Go(func() error {
			summary, err := s.lookup.LookupRepo(gctx, owner, repo)
			if err != nil {
				// Lookup failures leave the group as the sources reported it.
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if summary.Archived {
				drops = append(drops, identity)
				return nil
			}

			extra := models.DiscoveredServer{
				CanonicalURL: summary.HTMLURL,
				DisplayName:  summary.FullName,
				Stars:        summary.Stars,
				Source:       models.SourceGitHub,
				SourceID:     summary.FullName,
				DiscoveredAt: time.Now().UTC(),
			}

			current, ok := canonical.Normalize(summary.HTMLURL)
			if ok && current != identity {
				rekeys = append(rekeys, rekey{from: identity, to: current, extra: extra})
				return nil
			}
			additions = append(additions, addition{identity: identity, extra: extra})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, a := range additions {
		groups[a.identity] = append(groups[a.identity], a.extra)
	}
	for _, identity := range drops {
		result.RecordsFiltered += len(groups[identity])
		delete(groups, identity)
	}

	deleted := 0
	for _, rk := range rekeys {
		groups[rk.to] = append(groups[rk.to], groups[rk.from]...)
		groups[rk.to] = append(groups[rk.to], rk.extra)
		delete(groups, rk.from)

		// The old identity may have a stored row from an earlier cycle;
		// remove it so the rename does not leave a duplicate behind.
		if err := s.store.DeleteMergedServer(ctx, rk.from); err == nil {
			deleted++
		} else if !errors.Is(err, database.ErrNotFound) {
			return deleted, fmt.Errorf("delete renamed %s: %w", rk.from, err)
		}
	}
	return deleted, nil
}
