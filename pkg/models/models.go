// Package models holds the shared data model for discovery, merging, and
// conformance validation of MCP server candidates.
package models

import (
	"encoding/json"
	"time"
)

// Source identifies the origin of a discovered record.
type Source string

const (
	SourceCommunity Source = "community"
	SourceGitHub    Source = "github"
	SourceNPM       Source = "npm"
)

// DiscoveredServer is one source's view of a candidate integration. Records
// are immutable per fetch cycle; the merge engine reconciles them into a
// single MergedServer per canonical identity.
type DiscoveredServer struct {
	// CanonicalURL is the raw repository URL as reported by the source,
	// before normalization.
	CanonicalURL string `json:"canonicalUrl"`
	RepoOwner    string `json:"repoOwner,omitempty"`
	RepoName     string `json:"repoName,omitempty"`

	DisplayName     string `json:"displayName"`
	Description     string `json:"description,omitempty"`
	Version         string `json:"version,omitempty"`
	PackageRegistry string `json:"packageRegistry,omitempty"`
	PackageName     string `json:"packageName,omitempty"`
	RunCommand      string `json:"runCommand,omitempty"`

	Stars     int   `json:"stars,omitempty"`
	Downloads int64 `json:"downloads,omitempty"`

	Source   Source `json:"source"`
	SourceID string `json:"sourceId"`

	// RawPayload boxes the source's original response item for audit and
	// debug display. Tagged by Source; never interpreted after discovery.
	RawPayload json.RawMessage `json:"rawPayload,omitempty"`

	DiscoveredAt time.Time `json:"discoveredAt"`
}

// SourceRecord is the per-source slice retained on a MergedServer.
type SourceRecord struct {
	Source       Source          `json:"source"`
	SourceID     string          `json:"sourceId"`
	RawPayload   json.RawMessage `json:"rawPayload,omitempty"`
	DiscoveredAt time.Time       `json:"discoveredAt"`
}

// Conformance is the validation status recorded on a merged entity.
type Conformance string

const (
	ConformanceUnverified Conformance = "unverified"
	ConformanceVerified   Conformance = "verified"
	ConformanceFailed     Conformance = "failed"
)

// MergedServer is the single canonical record combining all sources' views
// of one project. Recomputed every sync cycle and upserted keyed by
// CanonicalID.
type MergedServer struct {
	CanonicalID string `json:"canonicalId"`

	DisplayName     string `json:"displayName"`
	Description     string `json:"description,omitempty"`
	RepoOwner       string `json:"repoOwner,omitempty"`
	RepoName        string `json:"repoName,omitempty"`
	Version         string `json:"version,omitempty"`
	PackageRegistry string `json:"packageRegistry,omitempty"`
	PackageName     string `json:"packageName,omitempty"`
	RunCommand      string `json:"runCommand,omitempty"`

	Stars     int   `json:"stars"`
	Downloads int64 `json:"downloads,omitempty"`

	// RequiresConfig marks candidates that cannot be validated without
	// external configuration; validation requests for them are skipped.
	RequiresConfig bool `json:"requiresConfig,omitempty"`

	Sources []SourceRecord `json:"sources"`

	Conformance         Conformance     `json:"conformance"`
	Capabilities        *CapabilityList `json:"capabilities,omitempty"`
	LastValidatedAt     *time.Time      `json:"lastValidatedAt,omitempty"`
	LastValidationError string          `json:"lastValidationError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CapabilityList is the set of capabilities a candidate reported during a
// successful handshake. An empty list means either the capability is
// unsupported or the candidate genuinely declares none; the two cases are
// intentionally not distinguished.
type CapabilityList struct {
	Tools     []string `json:"tools"`
	Resources []string `json:"resources"`
	Prompts   []string `json:"prompts"`
}

// RequestStatus is the lifecycle state of a ValidationRequest. Transitions
// are monotonic: pending -> validating -> completed|failed, with cancelled
// reachable from pending/validating and skipped assigned before validating.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusValidating RequestStatus = "validating"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusSkipped    RequestStatus = "skipped"
)

// IsTerminal reports whether the status permits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// ValidationRequest is one tracked attempt to establish conformance for a
// target. The row is retained for audit after reaching a terminal state.
type ValidationRequest struct {
	ID          string        `json:"id"`
	CanonicalID string        `json:"canonicalId"`
	Requester   string        `json:"requester"`
	RunCommand  string        `json:"runCommand,omitempty"`
	Status      RequestStatus `json:"status"`

	// SecretsCiphertext holds vault-encrypted runtime secrets while an
	// asynchronous attempt is queued. Deleted the instant it is read.
	SecretsCiphertext []byte `json:"-"`

	Result  *ValidationResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
	Retries int               `json:"retries"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FailureReason classifies why a validation attempt failed.
type FailureReason string

const (
	FailureSpawn      FailureReason = "spawn_error"
	FailureInitialize FailureReason = "initialize_rejected"
	FailureTimeout    FailureReason = "timeout"
	FailureCrashed    FailureReason = "unexpected_exit"
)

// ValidationResult is produced once per attempt, with an identical shape
// regardless of which execution strategy ran.
type ValidationResult struct {
	Success  bool `json:"success"`
	Isolated bool `json:"isolated"`

	ServerName      string          `json:"serverName,omitempty"`
	ServerVersion   string          `json:"serverVersion,omitempty"`
	ProtocolVersion string          `json:"protocolVersion,omitempty"`
	Capabilities    *CapabilityList `json:"capabilities,omitempty"`

	DurationMS    int64         `json:"durationMs"`
	FailureReason FailureReason `json:"failureReason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// AuditEntry is one immutable record of a transition or action taken on a
// ValidationRequest. Entries never contain secret values.
type AuditEntry struct {
	ID        string            `json:"id"`
	RequestID string            `json:"requestId"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
