package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// Fake is an in-memory Store for tests and local development without
// Postgres. Semantics mirror the PostgreSQL implementation, including
// compare-and-set transitions and delete-on-read secret handling.
type Fake struct {
	mu       sync.Mutex
	servers  map[string]*models.MergedServer
	requests map[string]*models.ValidationRequest
	secrets  map[string][]byte
	audit    map[string][]*models.AuditEntry
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{
		servers:  make(map[string]*models.MergedServer),
		requests: make(map[string]*models.ValidationRequest),
		secrets:  make(map[string][]byte),
		audit:    make(map[string][]*models.AuditEntry),
	}
}

func (f *Fake) UpsertMergedServer(_ context.Context, server *models.MergedServer) error {
	if server == nil || server.CanonicalID == "" {
		return ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	record := *server
	if existing, ok := f.servers[server.CanonicalID]; ok {
		record.CreatedAt = existing.CreatedAt
		record.Conformance = existing.Conformance
		record.Capabilities = existing.Capabilities
		record.LastValidatedAt = existing.LastValidatedAt
		record.LastValidationError = existing.LastValidationError
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Conformance == "" {
		record.Conformance = models.ConformanceUnverified
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	f.servers[record.CanonicalID] = &record
	return nil
}

func (f *Fake) GetMergedServer(_ context.Context, canonicalID string) (*models.MergedServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[canonicalID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *server
	return &copied, nil
}

func (f *Fake) ListMergedServers(_ context.Context, filter *ServerFilter, cursor string, limit int) ([]*models.MergedServer, string, error) {
	if limit <= 0 {
		limit = 30
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.servers))
	for id := range f.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var servers []*models.MergedServer
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		server := f.servers[id]
		if !matchesServerFilter(server, filter) {
			continue
		}
		copied := *server
		servers = append(servers, &copied)
		if len(servers) > limit {
			break
		}
	}

	nextCursor := ""
	if len(servers) > limit {
		servers = servers[:limit]
		nextCursor = servers[len(servers)-1].CanonicalID
	}
	return servers, nextCursor, nil
}

func matchesServerFilter(server *models.MergedServer, filter *ServerFilter) bool {
	if filter == nil {
		return true
	}
	if filter.SubstringName != nil &&
		!strings.Contains(strings.ToLower(server.DisplayName), strings.ToLower(*filter.SubstringName)) {
		return false
	}
	if filter.Conformance != nil && server.Conformance != *filter.Conformance {
		return false
	}
	if filter.MinStars != nil && server.Stars < *filter.MinStars {
		return false
	}
	if filter.UpdatedSince != nil && !server.UpdatedAt.After(*filter.UpdatedSince) {
		return false
	}
	if filter.Source != nil {
		found := false
		for _, src := range server.Sources {
			if src.Source == *filter.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *Fake) DeleteMergedServer(_ context.Context, canonicalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[canonicalID]; !ok {
		return ErrNotFound
	}
	delete(f.servers, canonicalID)
	return nil
}

func (f *Fake) ApplyValidationOutcome(_ context.Context, canonicalID string, result *models.ValidationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[canonicalID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	server.LastValidatedAt = &now
	server.UpdatedAt = now
	if result.Success {
		server.Conformance = models.ConformanceVerified
		server.Capabilities = result.Capabilities
		server.LastValidationError = ""
	} else {
		server.Conformance = models.ConformanceFailed
		server.LastValidationError = result.Error
	}
	return nil
}

func (f *Fake) CreateValidationRequest(_ context.Context, req *models.ValidationRequest) error {
	if req == nil || req.ID == "" || req.CanonicalID == "" {
		return ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[req.ID]; ok {
		return ErrAlreadyExists
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt
	copied := *req
	f.requests[req.ID] = &copied
	return nil
}

func (f *Fake) GetValidationRequest(_ context.Context, id string) (*models.ValidationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (f *Fake) ListValidationRequests(_ context.Context, filter *RequestFilter, cursor string, limit int) ([]*models.ValidationRequest, string, error) {
	if limit <= 0 {
		limit = 30
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.requests))
	for id := range f.requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var requests []*models.ValidationRequest
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		req := f.requests[id]
		if filter != nil {
			if filter.CanonicalID != nil && req.CanonicalID != *filter.CanonicalID {
				continue
			}
			if filter.Status != nil && req.Status != *filter.Status {
				continue
			}
			if filter.Requester != nil && req.Requester != *filter.Requester {
				continue
			}
		}
		copied := *req
		requests = append(requests, &copied)
		if len(requests) > limit {
			break
		}
	}

	nextCursor := ""
	if len(requests) > limit {
		requests = requests[:limit]
		nextCursor = requests[len(requests)-1].ID
	}
	return requests, nextCursor, nil
}

func (f *Fake) FindActiveRequest(_ context.Context, canonicalID, requester string) (*models.ValidationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *models.ValidationRequest
	for _, req := range f.requests {
		if req.CanonicalID != canonicalID || req.Requester != requester || req.Status.IsTerminal() {
			continue
		}
		if newest == nil || req.CreatedAt.After(newest.CreatedAt) {
			newest = req
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

func (f *Fake) TransitionRequest(_ context.Context, id string, from, to models.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != from {
		return ErrConflict
	}
	req.Status = to
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fake) SetRequestResult(_ context.Context, id string, result *models.ValidationResult, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Result = result
	req.Error = errMsg
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fake) SetRequestSecrets(_ context.Context, id string, ciphertext []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		return ErrNotFound
	}
	f.secrets[id] = append([]byte(nil), ciphertext...)
	return nil
}

func (f *Fake) TakeRequestSecrets(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ciphertext, ok := f.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(f.secrets, id)
	return ciphertext, nil
}

func (f *Fake) PurgeRequestSecrets(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, id)
	return nil
}

// HasSecrets reports whether an encrypted blob is still stored for a
// request. Test helper only.
func (f *Fake) HasSecrets(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.secrets[id]
	return ok
}

func (f *Fake) AppendAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	if entry == nil || entry.ID == "" || entry.RequestID == "" {
		return ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	copied := *entry
	f.audit[entry.RequestID] = append(f.audit[entry.RequestID], &copied)
	return nil
}

func (f *Fake) ListAuditEntries(_ context.Context, requestID string) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]*models.AuditEntry, 0, len(f.audit[requestID]))
	for _, entry := range f.audit[requestID] {
		copied := *entry
		entries = append(entries, &copied)
	}
	return entries, nil
}

func (f *Fake) Close() error { return nil }
