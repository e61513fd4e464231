// Package database persists merged servers, validation requests, and the
// audit trail.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// Common database errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflicting state transition")
	ErrDatabase      = errors.New("database error")
)

// ServerFilter defines filtering options for merged-server queries
type ServerFilter struct {
	SubstringName *string             // substring search on display name
	Conformance   *models.Conformance // filter by validation status
	Source        *models.Source      // only servers seen by this source
	MinStars      *int                // popularity floor
	UpdatedSince  *time.Time          // incremental sync filtering
}

// RequestFilter defines filtering options for validation-request queries
type RequestFilter struct {
	CanonicalID *string
	Status      *models.RequestStatus
	Requester   *string
}

// Store is the persistence boundary for the catalog. A PostgreSQL
// implementation backs production; an in-memory fake backs tests.
type Store interface {
	// UpsertMergedServer inserts or replaces the canonical record for its
	// CanonicalID, preserving CreatedAt and any validation outcome already
	// recorded on the row.
	UpsertMergedServer(ctx context.Context, server *models.MergedServer) error
	// GetMergedServer retrieves one canonical record.
	GetMergedServer(ctx context.Context, canonicalID string) (*models.MergedServer, error)
	// ListMergedServers pages through canonical records ordered by
	// canonical ID. The returned cursor is empty on the last page.
	ListMergedServers(ctx context.Context, filter *ServerFilter, cursor string, limit int) ([]*models.MergedServer, string, error)
	// DeleteMergedServer removes a canonical record, used when a rename
	// collapses two identities into one.
	DeleteMergedServer(ctx context.Context, canonicalID string) error
	// ApplyValidationOutcome records a validation result on the canonical
	// record: conformance, capabilities, and the validated-at timestamp.
	ApplyValidationOutcome(ctx context.Context, canonicalID string, result *models.ValidationResult) error

	// CreateValidationRequest persists a new request in its initial status.
	CreateValidationRequest(ctx context.Context, req *models.ValidationRequest) error
	// GetValidationRequest retrieves one request by ID.
	GetValidationRequest(ctx context.Context, id string) (*models.ValidationRequest, error)
	// ListValidationRequests pages through requests, newest first.
	ListValidationRequests(ctx context.Context, filter *RequestFilter, cursor string, limit int) ([]*models.ValidationRequest, string, error)
	// FindActiveRequest returns the non-terminal request for a target and
	// requester, or ErrNotFound.
	FindActiveRequest(ctx context.Context, canonicalID, requester string) (*models.ValidationRequest, error)
	// TransitionRequest moves a request from one status to another as a
	// compare-and-set; ErrConflict when the current status does not match.
	TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) error
	// SetRequestResult stores the attempt outcome on the request row.
	SetRequestResult(ctx context.Context, id string, result *models.ValidationResult, errMsg string) error

	// SetRequestSecrets stores the encrypted secret blob for a queued
	// request. Only ciphertext ever reaches the store.
	SetRequestSecrets(ctx context.Context, id string, ciphertext []byte) error
	// TakeRequestSecrets returns the encrypted blob and deletes it in the
	// same operation. A second call returns ErrNotFound.
	TakeRequestSecrets(ctx context.Context, id string) ([]byte, error)
	// PurgeRequestSecrets deletes any stored blob without reading it.
	// Called on every terminal transition.
	PurgeRequestSecrets(ctx context.Context, id string) error

	// AppendAuditEntry records one immutable audit event.
	AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	// ListAuditEntries returns the audit trail for a request, oldest first.
	ListAuditEntries(ctx context.Context, requestID string) ([]*models.AuditEntry, error)

	// Close releases the underlying connections.
	Close() error
}
