package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Create(context.Background(), NewJob(id, "in/"+id, "out/"+id, 0.25)))
	}
}

func frameHandler(frames int) Handler {
	return func(ctx context.Context, job Job, report func(models.Progress)) (*models.VideoResult, error) {
		for i := 1; i <= frames; i++ {
			if err := ctx.Err(); err != nil {
				return &models.VideoResult{ProcessedFrames: i - 1}, err
			}
			report(models.Progress{ProcessedFrames: i, TotalFrames: frames})
		}
		return &models.VideoResult{Info: models.VideoInfo{TotalFrames: frames}, ProcessedFrames: frames}, nil
	}
}

func TestDispatcher_RunsJobToSuccess(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "v1")
	d := NewDispatcher(store, frameHandler(5), 1, 4)
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	job, err := d.Submit(context.Background(), "v1", 0.6)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)
	assert.InDelta(t, 0.6, job.ConfThreshold, 1e-6)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := d.Wait(ctx, "v1")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, done.State)
	assert.Equal(t, 5, done.ProcessedFrames)
	assert.Equal(t, 5, done.TotalFrames)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Error)

	// terminal jobs may be processed again
	_, err = d.Submit(context.Background(), "v1", 0.6)
	require.NoError(t, err)
	done, err = d.Wait(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, done.State)
}

func TestDispatcher_RecordsFailure(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "bad")
	d := NewDispatcher(store, func(context.Context, Job, func(models.Progress)) (*models.VideoResult, error) {
		return nil, errors.New("could not open video")
	}, 1, 1)
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	_, err := d.Submit(context.Background(), "bad", 0.25)
	require.NoError(t, err)

	job, err := d.Wait(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, "could not open video", job.Error)
}

func TestDispatcher_QueueLimits(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "a", "b", "c")

	release := make(chan struct{})
	var started atomic.Int32
	d := NewDispatcher(store, func(ctx context.Context, job Job, _ func(models.Progress)) (*models.VideoResult, error) {
		started.Add(1)
		<-release
		return &models.VideoResult{}, nil
	}, 1, 1)
	require.NoError(t, d.Start(context.Background()))

	_, err := d.Submit(context.Background(), "a", 0.25)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return started.Load() == 1 }, 2*time.Second, time.Millisecond)

	_, err = d.Submit(context.Background(), "a", 0.25)
	assert.ErrorIs(t, err, errs.ErrAlreadyQueued)

	_, err = d.Submit(context.Background(), "b", 0.25)
	require.NoError(t, err)
	assert.Equal(t, 1, d.QueueLength())

	_, err = d.Submit(context.Background(), "c", 0.25)
	assert.ErrorIs(t, err, errs.ErrQueueFull)

	_, err = d.Submit(context.Background(), "missing", 0.25)
	assert.Error(t, err)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))

	for _, id := range []string{"a", "b"} {
		job, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, job.State, id)
	}

	_, err = d.Submit(context.Background(), "c", 0.25)
	assert.Error(t, err, "closed dispatcher rejects jobs")
}

func TestDispatcher_ShutdownCancelsRunningJobs(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "slow")

	running := make(chan struct{})
	d := NewDispatcher(store, func(ctx context.Context, _ Job, _ func(models.Progress)) (*models.VideoResult, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	}, 1, 1)
	require.NoError(t, d.Start(context.Background()))

	_, err := d.Submit(context.Background(), "slow", 0.25)
	require.NoError(t, err)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	job, err := store.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Contains(t, job.Error, "context canceled")
}

func TestDispatcher_StartFailsInterruptedJobs(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "stale", "fresh")
	_, err := store.Update(context.Background(), "stale", func(j *Job) error {
		j.State = StateRunning
		j.ProcessedFrames = 7
		return nil
	})
	require.NoError(t, err)

	d := NewDispatcher(store, frameHandler(1), 1, 1)
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	stale, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stale.State)
	assert.Equal(t, 7, stale.ProcessedFrames)
	assert.NotEmpty(t, stale.Error)

	fresh, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, fresh.State)
}
