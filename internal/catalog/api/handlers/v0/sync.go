package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/jobs"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/syncer"
)

// SyncJobInput addresses one sync job.
type SyncJobInput struct {
	JobID string `path:"jobId" doc:"Sync job ID"`
}

// RegisterSyncEndpoints registers sync trigger and job inspection
// endpoints.
func RegisterSyncEndpoints(api huma.API, pathPrefix string, s *syncer.Syncer) {
	tags := []string{"sync"}

	huma.Register(api, huma.Operation{
		OperationID:   "trigger-sync",
		Method:        http.MethodPost,
		Path:          pathPrefix + "/sync",
		Summary:       "Trigger a sync cycle",
		Description:   "Start a discovery cycle in the background. Returns 409 when one is already running.",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, _ *struct{}) (*Response[jobs.Job], error) {
		job, err := s.Trigger(ctx)
		if err != nil {
			if errors.Is(err, jobs.ErrJobAlreadyRunning) {
				return nil, huma.Error409Conflict("A sync cycle is already running")
			}
			return nil, huma.Error500InternalServerError("Failed to trigger sync", err)
		}
		return &Response[jobs.Job]{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sync-job",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/sync/jobs/{jobId}",
		Summary:     "Get a sync job",
		Tags:        tags,
	}, func(_ context.Context, input *SyncJobInput) (*Response[jobs.Job], error) {
		job, err := s.Job(jobs.JobID(input.JobID))
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				return nil, huma.Error404NotFound("Sync job not found")
			}
			return nil, huma.Error500InternalServerError("Failed to get sync job", err)
		}
		return &Response[jobs.Job]{Body: *job}, nil
	})
}
