package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour shared by every Store implementation.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	job := NewJob("a1", "static/uploads/a1.mp4", "static/results/output_a1.mp4", 0.3)
	require.NoError(t, store.Create(ctx, job))
	assert.ErrorIs(t, store.Create(ctx, job), errs.ErrJobExists)

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
	assert.Equal(t, job.InputPath, got.InputPath)
	assert.InDelta(t, 0.3, got.ConfThreshold, 1e-6)
	assert.Nil(t, got.StartedAt)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)

	updated, err := store.Update(ctx, "a1", func(j *Job) error {
		now := time.Now().UTC()
		j.State = StateRunning
		j.StartedAt = &now
		j.TotalFrames = 40
		j.ProcessedFrames = 10
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, updated.State)
	assert.InDelta(t, 25.0, updated.Progress(), 1e-9)

	stop := errors.New("stop")
	_, err = store.Update(ctx, "a1", func(j *Job) error {
		j.State = StateFailed
		return stop
	})
	assert.ErrorIs(t, err, stop)
	got, err = store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State, "aborted update must not be stored")

	_, err = store.Update(ctx, "missing", func(*Job) error { return nil })
	assert.ErrorIs(t, err, errs.ErrJobNotFound)

	old := NewJob("b2", "in", "out", 0.25)
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC()
	require.NoError(t, store.Create(ctx, old))

	done := NewJob("c3", "in", "out", 0.25)
	require.NoError(t, store.Create(ctx, done))
	_, err = store.Update(ctx, "c3", func(j *Job) error {
		finished := time.Now().Add(-30 * time.Hour).UTC()
		j.State = StateSucceeded
		j.FinishedAt = &finished
		return nil
	})
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b2", all[0].ID)

	n, err := store.DeleteFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a1", all[0].ID, "running jobs are never pruned")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestJobProgressAndElapsed(t *testing.T) {
	j := Job{}
	assert.Zero(t, j.Progress())
	assert.Zero(t, j.Elapsed())

	j.TotalFrames, j.ProcessedFrames = 10, 12
	assert.Equal(t, 100.0, j.Progress())

	start := time.Now().Add(-time.Minute)
	end := start.Add(3 * time.Second)
	j.StartedAt, j.FinishedAt = &start, &end
	assert.Equal(t, 3*time.Second, j.Elapsed())

	assert.True(t, StateQueued.Pending())
	assert.True(t, StateRunning.Pending())
	assert.False(t, StateUploaded.Pending())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}
