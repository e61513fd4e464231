package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/orchestrator"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// CreateValidationInput starts a validation request.
type CreateValidationInput struct {
	Body struct {
		CanonicalID string `json:"canonicalId" doc:"Canonical identity of the target server" example:"https://github.com/acme/widget"`
		Requester   string `json:"requester" doc:"Identity of the requester" example:"alice"`
	}
}

// ValidationDetailInput addresses one request.
type ValidationDetailInput struct {
	ID string `path:"id" doc:"Validation request ID"`
}

// ListValidationsInput filters the request list.
type ListValidationsInput struct {
	Cursor      string `query:"cursor" required:"false"`
	Limit       int    `query:"limit" default:"30" minimum:"1" maximum:"100"`
	CanonicalID string `query:"canonical_id" doc:"Filter by target identity" required:"false"`
	Status      string `query:"status" doc:"Filter by status" required:"false" enum:"pending,validating,completed,failed,cancelled,skipped"`
	Requester   string `query:"requester" doc:"Filter by requester" required:"false"`
}

// SupplySecretsInput attaches runtime secrets to a pending request. Secret
// values appear nowhere but this request body.
type SupplySecretsInput struct {
	ID   string `path:"id" doc:"Validation request ID"`
	Body struct {
		Requester string            `json:"requester" doc:"Must match the request's creator"`
		Secrets   map[string]string `json:"secrets" doc:"Environment-shaped secret names and values"`
	}
}

// CancelValidationInput cancels a non-terminal request.
type CancelValidationInput struct {
	ID   string `path:"id" doc:"Validation request ID"`
	Body struct {
		Requester string `json:"requester" doc:"Must match the request's creator"`
	}
}

// WorkerResultInput is the callback body an external worker posts.
type WorkerResultInput struct {
	ID   string `path:"id" doc:"Validation request ID"`
	Body struct {
		Actor  string                  `json:"actor" doc:"Worker identity" example:"worker-7"`
		Result models.ValidationResult `json:"result"`
	}
}

// ForceTransitionInput is the operator override for wedged requests.
type ForceTransitionInput struct {
	ID   string `path:"id" doc:"Validation request ID"`
	Body struct {
		Actor string `json:"actor" doc:"Operator identity"`
		To    string `json:"to" doc:"Target status" enum:"pending,validating,completed,failed,cancelled"`
	}
}

// ValidationListResponse is the paginated request list payload.
type ValidationListResponse struct {
	Requests []models.ValidationRequest `json:"requests"`
	Metadata Metadata                   `json:"metadata"`
}

// AuditListResponse is the audit trail payload for one request.
type AuditListResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

// RegisterValidationsEndpoints registers the validation request lifecycle
// endpoints.
func RegisterValidationsEndpoints(api huma.API, pathPrefix string, store database.Store, orch *orchestrator.Orchestrator) {
	tags := []string{"validations"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-validation",
		Method:        http.MethodPost,
		Path:          pathPrefix + "/validations",
		Summary:       "Request validation of a server",
		Description:   "Start a conformance validation attempt for a canonical server. Idempotent per target and requester.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateValidationInput) (*Response[models.ValidationRequest], error) {
		req, err := orch.Create(ctx, input.Body.CanonicalID, input.Body.Requester)
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to create validation request")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validations",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/validations",
		Summary:     "List validation requests",
		Tags:        tags,
	}, func(ctx context.Context, input *ListValidationsInput) (*Response[ValidationListResponse], error) {
		filter := &database.RequestFilter{}
		if input.CanonicalID != "" {
			filter.CanonicalID = &input.CanonicalID
		}
		if input.Status != "" {
			status := models.RequestStatus(input.Status)
			filter.Status = &status
		}
		if input.Requester != "" {
			filter.Requester = &input.Requester
		}

		requests, nextCursor, err := store.ListValidationRequests(ctx, filter, input.Cursor, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list validation requests", err)
		}

		values := make([]models.ValidationRequest, len(requests))
		for i, req := range requests {
			values[i] = *req
		}
		return &Response[ValidationListResponse]{
			Body: ValidationListResponse{
				Requests: values,
				Metadata: Metadata{NextCursor: nextCursor, Count: len(requests)},
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/validations/{id}",
		Summary:     "Get a validation request",
		Tags:        tags,
	}, func(ctx context.Context, input *ValidationDetailInput) (*Response[models.ValidationRequest], error) {
		req, err := store.GetValidationRequest(ctx, input.ID)
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to get validation request")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "supply-validation-secrets",
		Method:      http.MethodPut,
		Path:        pathPrefix + "/validations/{id}/secrets",
		Summary:     "Supply runtime secrets",
		Description: "Attach runtime secrets to a pending request and trigger execution. Values are used once and never persisted in plaintext.",
		Tags:        tags,
	}, func(ctx context.Context, input *SupplySecretsInput) (*Response[models.ValidationRequest], error) {
		req, err := orch.SupplySecrets(ctx, input.ID, input.Body.Requester, input.Body.Secrets)
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to supply secrets")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-validation",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/validations/{id}/cancel",
		Summary:     "Cancel a validation request",
		Tags:        tags,
	}, func(ctx context.Context, input *CancelValidationInput) (*Response[models.ValidationRequest], error) {
		req, err := orch.Cancel(ctx, input.ID, input.Body.Requester)
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to cancel validation request")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-validation",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/validations/{id}/result",
		Summary:     "Record a worker's validation result",
		Description: "Callback for dispatched requests: an external worker posts the outcome it produced.",
		Tags:        tags,
	}, func(ctx context.Context, input *WorkerResultInput) (*Response[models.ValidationRequest], error) {
		result := input.Body.Result
		req, err := orch.CompleteFromWorker(ctx, input.ID, input.Body.Actor, &result)
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to record validation result")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "force-validation-transition",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/validations/{id}/force",
		Summary:     "Force a status transition",
		Description: "Operator escape hatch for requests wedged by a dead worker. The transition is audited with the acting operator.",
		Tags:        []string{"validations", "admin"},
	}, func(ctx context.Context, input *ForceTransitionInput) (*Response[models.ValidationRequest], error) {
		req, err := orch.ForceTransition(ctx, input.ID, input.Body.Actor, models.RequestStatus(input.Body.To))
		if err != nil {
			return nil, mapOrchestratorError(err, "Failed to force transition")
		}
		return &Response[models.ValidationRequest]{Body: *req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation-audit",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/validations/{id}/audit",
		Summary:     "Get the audit trail for a request",
		Tags:        tags,
	}, func(ctx context.Context, input *ValidationDetailInput) (*Response[AuditListResponse], error) {
		if _, err := store.GetValidationRequest(ctx, input.ID); err != nil {
			return nil, mapOrchestratorError(err, "Failed to get validation request")
		}
		entries, err := store.ListAuditEntries(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list audit entries", err)
		}
		values := make([]models.AuditEntry, len(entries))
		for i, entry := range entries {
			values[i] = *entry
		}
		return &Response[AuditListResponse]{Body: AuditListResponse{Entries: values}}, nil
	})
}

// mapOrchestratorError converts lifecycle errors to their HTTP shape.
// Anything unrecognized is treated as a client input problem rather than a
// server fault, since the orchestrator validates before it executes.
func mapOrchestratorError(err error, fallback string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return huma.Error404NotFound("Not found")
	case errors.Is(err, orchestrator.ErrNotRequester):
		return huma.Error403Forbidden("Request belongs to a different requester")
	case errors.Is(err, orchestrator.ErrTerminal), errors.Is(err, database.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, database.ErrDatabase):
		return huma.Error500InternalServerError(fallback, err)
	default:
		return huma.Error400BadRequest(err.Error())
	}
}
