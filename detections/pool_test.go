package detections

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFactory(created *int32) SessionFactory {
	return func() (*ModelSession, error) {
		atomic.AddInt32(created, 1)
		return &ModelSession{}, nil
	}
}

func TestModelSessionPool_AcquireRelease(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	assert.Equal(t, int32(2), created)

	s1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	m := pool.GetMetrics()
	assert.Equal(t, 2, m.InUse)
	assert.Equal(t, int64(2), m.TotalAcquired)

	pool.Release(s1)
	pool.Release(s2)

	m = pool.GetMetrics()
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, int64(2), m.TotalReleased)
	assert.Equal(t, 2, m.Size)
}

func TestModelSessionPool_AcquireHonoursContext(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 1)
	require.NoError(t, err)
	defer pool.Destroy()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelSessionPool_Closed(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 1)
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, errs.ErrPoolClosed)
}

func TestModelSessionPool_ReplenishAfterDiscard(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s)

	pool.replenish()

	assert.Equal(t, int32(3), atomic.LoadInt32(&created))
	assert.Len(t, pool.sessions, 2)
}

func TestModelSessionPool_ReplenishNeverOverfills(t *testing.T) {
	var created int32
	pool, err := NewModelSessionPool(countingFactory(&created), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.replenish()
	assert.Equal(t, int32(2), atomic.LoadInt32(&created), "a checked out session is not missing")

	// a session taken off the channel before the in-use counter moves
	inFlight := <-pool.sessions
	pool.replenish()
	assert.Equal(t, int32(2), atomic.LoadInt32(&created))
	assert.Empty(t, pool.sessions)

	released := make(chan struct{})
	go func() {
		pool.Release(held)
		pool.sessions <- inFlight
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("returning sessions blocked on a full pool")
	}
	assert.Len(t, pool.sessions, 2)
}

func TestModelSessionPool_InitFailure(t *testing.T) {
	calls := 0
	_, err := NewModelSessionPool(func() (*ModelSession, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("out of memory")
		}
		return &ModelSession{}, nil
	}, 3)

	assert.ErrorContains(t, err, "failed to initialize session 1")
}
