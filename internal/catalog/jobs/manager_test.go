//nolint:testpackage
package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_OneActiveCycleAtATime(t *testing.T) {
	m := NewManager()

	first, err := m.Begin()
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, first.Status)

	_, err = m.Begin()
	assert.True(t, errors.Is(err, ErrJobAlreadyRunning))

	require.NoError(t, m.Start(first.ID))
	_, err = m.Begin()
	assert.True(t, errors.Is(err, ErrJobAlreadyRunning))

	require.NoError(t, m.Complete(first.ID, &JobResult{ServersMerged: 3}))
	second, err := m.Begin()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestLifecycleAndLookup(t *testing.T) {
	m := NewManager()

	job, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Start(job.ID))
	require.NoError(t, m.UpdateProgress(job.ID, JobProgress{RecordsFetched: 42}))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Equal(t, 42, got.Progress.RecordsFetched)

	require.NoError(t, m.Fail(job.ID, "registry unreachable"))
	got, err = m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "registry unreachable", got.Result.Error)

	_, err = m.Get("sync-missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestBegin_PrunesExpiredCycles(t *testing.T) {
	m := NewManager()

	job, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Complete(job.ID, &JobResult{}))

	// Age the finished cycle past retention.
	m.mu.Lock()
	m.jobs[job.ID].UpdatedAt = time.Now().UTC().Add(-2 * jobTTL)
	m.mu.Unlock()

	_, err = m.Begin()
	require.NoError(t, err)
	_, err = m.Get(job.ID)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}
