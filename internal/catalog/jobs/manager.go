package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// jobTTL is how long finished cycles are retained for API lookup.
const jobTTL = 1 * time.Hour

var (
	// ErrJobNotFound is returned when no cycle with the given ID is
	// retained.
	ErrJobNotFound = errors.New("sync job not found")

	// ErrJobAlreadyRunning is returned when a cycle is requested while a
	// previous one is still active.
	ErrJobAlreadyRunning = errors.New("a sync cycle is already running")
)

// Manager tracks sync cycles in memory. At most one cycle is active at a
// time; finished cycles are kept for an hour so the API can report their
// results.
type Manager struct {
	mu   sync.Mutex
	jobs map[JobID]*Job
}

// NewManager returns an empty cycle tracker.
func NewManager() *Manager {
	return &Manager{jobs: make(map[JobID]*Job)}
}

// Begin registers a new sync cycle in pending state. While a previous cycle
// is still active it returns ErrJobAlreadyRunning instead.
func (m *Manager) Begin() (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune()
	for _, job := range m.jobs {
		if !job.IsTerminal() {
			return nil, ErrJobAlreadyRunning
		}
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        newJobID(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job

	copied := *job
	return &copied, nil
}

// Get returns a copy of the cycle with the given ID.
func (m *Manager) Get(id JobID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// Start marks a cycle as running.
func (m *Manager) Start(id JobID) error {
	return m.update(id, func(job *Job) {
		job.Status = JobStatusRunning
	})
}

// UpdateProgress records the counters of a cycle mid-flight.
func (m *Manager) UpdateProgress(id JobID, progress JobProgress) error {
	return m.update(id, func(job *Job) {
		job.Progress = progress
	})
}

// Complete marks a cycle as finished with its final counters.
func (m *Manager) Complete(id JobID, result *JobResult) error {
	return m.update(id, func(job *Job) {
		job.Status = JobStatusCompleted
		job.Result = result
	})
}

// Fail marks a cycle as failed.
func (m *Manager) Fail(id JobID, errMsg string) error {
	return m.update(id, func(job *Job) {
		job.Status = JobStatusFailed
		job.Result = &JobResult{Error: errMsg}
	})
}

func (m *Manager) update(id JobID, apply func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	apply(job)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// prune drops finished cycles past their retention. Caller holds the lock.
func (m *Manager) prune() {
	cutoff := time.Now().UTC().Add(-jobTTL)
	for id, job := range m.jobs {
		if job.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

func newJobID() JobID {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return JobID("sync-" + time.Now().UTC().Format("20060102150405"))
	}
	return JobID("sync-" + hex.EncodeToString(bytes))
}
