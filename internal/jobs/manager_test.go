package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/models"
)

type fakeRunner struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (r *fakeRunner) ScrapeList(ctx context.Context, listID string) (*models.RunSummary, error) {
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	if cur > r.maxInFlight.Load() {
		r.maxInFlight.Store(cur)
	}
	r.calls.Add(1)

	time.Sleep(10 * time.Millisecond)
	if listID == "broken" {
		return nil, errors.New("page in unrecoverable error state")
	}
	return &models.RunSummary{
		RunID:        int64(r.calls.Load()),
		ListID:       listID,
		Status:       models.RunStatusCompleted,
		ProfileCount: 7,
	}, nil
}

func TestManagerRunsJobsOneAtATime(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	first, err := m.Enqueue("77")
	require.NoError(t, err)
	second, err := m.Enqueue("broken")
	require.NoError(t, err)
	third, err := m.Enqueue("88")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.Get(third.ID)
		return err == nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 7, job.ProfileCount)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	job, err = m.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "unrecoverable")

	assert.Equal(t, int32(1), runner.maxInFlight.Load(), "worker must never overlap runs")
	assert.Equal(t, int32(3), runner.calls.Load())

	jobs := m.List()
	require.Len(t, jobs, 3)
}

func TestManagerGetUnknownJob(t *testing.T) {
	m := NewManager(&fakeRunner{}, slog.Default())
	_, err := m.Get("nope")
	require.ErrorIs(t, err, ErrJobNotFound)
}
