// Package jobs tracks asynchronous sync cycles so the API can report their
// progress and outcome.
package jobs

import (
	"time"
)

// JobID uniquely identifies a sync cycle.
type JobID string

// JobStatus represents the current state of a cycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobProgress tracks a sync cycle while it runs.
type JobProgress struct {
	RecordsFetched  int `json:"recordsFetched"`
	RecordsFiltered int `json:"recordsFiltered"`
	SourceErrors    int `json:"sourceErrors"`
	ServersMerged   int `json:"serversMerged"`
}

// JobResult contains the final outcome of a cycle.
type JobResult struct {
	RecordsFetched      int    `json:"recordsFetched,omitempty"`
	RecordsFiltered     int    `json:"recordsFiltered,omitempty"`
	SourceErrors        int    `json:"sourceErrors,omitempty"`
	ServersMerged       int    `json:"serversMerged,omitempty"`
	ServersDeleted      int    `json:"serversDeleted,omitempty"`
	RevalidationsQueued int    `json:"revalidationsQueued,omitempty"`
	Error               string `json:"error,omitempty"`
}

// Job is one tracked sync cycle.
type Job struct {
	ID        JobID       `json:"id"`
	Status    JobStatus   `json:"status"`
	Progress  JobProgress `json:"progress"`
	Result    *JobResult  `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IsTerminal reports whether the cycle has finished.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
