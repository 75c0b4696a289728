package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/models"
)

func setupRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueueWithClient(client, "reelcast-test")
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueue_AcquireByPriority(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)

	low := testJob(models.NewULID(), 1)
	high := testJob(models.NewULID(), 5)
	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))

	first, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, models.JobStatusRunning, first.Status)
	assert.Equal(t, "worker-1", first.LockedBy)
	assert.Equal(t, 1, first.AttemptCount)

	second, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	_, err = q.Acquire(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrNoJobs)
}

func TestRedisQueue_SamePriorityIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)

	older := testJob(models.NewULID(), 3)
	older.CreatedAt = models.Now().Add(-time.Minute)
	newer := testJob(models.NewULID(), 3)
	require.NoError(t, q.Enqueue(ctx, newer))
	require.NoError(t, q.Enqueue(ctx, older))

	got, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
}

func TestRedisQueue_EnqueueRejectsBusyAsset(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)
	asset := models.NewULID()

	require.NoError(t, q.Enqueue(ctx, testJob(asset, 0)))
	active, err := q.HasActiveJob(ctx, asset)
	require.NoError(t, err)
	assert.True(t, active)

	err = q.Enqueue(ctx, testJob(asset, 0))
	assert.ErrorIs(t, err, ErrAssetBusy)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestRedisQueue_RetryIsReacquired(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)
	job := testJob(models.NewULID(), 0)
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, got, 0))

	active, err := q.HasActiveJob(ctx, job.AssetID)
	require.NoError(t, err)
	assert.True(t, active, "a rescheduled job keeps the asset lock")

	var again *models.ProcessingJob
	require.Eventually(t, func() bool {
		again, err = q.Acquire(ctx, "worker-2")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.AttemptCount)
	assert.Equal(t, "worker-2", again.LockedBy)
}

func TestRedisQueue_DelayedRetryWaits(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)
	require.NoError(t, q.Enqueue(ctx, testJob(models.NewULID(), 0)))

	got, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, got, time.Hour))

	_, err = q.Acquire(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrNoJobs)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(0), stats.Active)
}

func TestRedisQueue_CompleteAndFailCounted(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)

	ok := testJob(models.NewULID(), 0)
	bad := testJob(models.NewULID(), 0)
	require.NoError(t, q.Enqueue(ctx, ok))
	require.NoError(t, q.Enqueue(ctx, bad))

	first, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	second, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Active)

	require.NoError(t, q.Complete(ctx, first))
	require.NoError(t, q.Fail(ctx, second, errors.New("encoder exited 1")))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Completed: 1, Failed: 1, Total: 2}, stats)

	for _, j := range []*models.ProcessingJob{first, second} {
		active, err := q.HasActiveJob(ctx, j.AssetID)
		require.NoError(t, err)
		assert.False(t, active)
	}

	// Settled assets accept a new job.
	require.NoError(t, q.Enqueue(ctx, testJob(first.AssetID, 0)))
}

func TestRedisQueue_RecoverStale(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)
	job := testJob(models.NewULID(), 0)
	require.NoError(t, q.Enqueue(ctx, job))

	_, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "recently acquired jobs are not stale")

	n, err = q.RecoverStale(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(0), stats.Active)

	again, err := q.Acquire(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, "worker-2", again.LockedBy)
}

func TestRedisQueue_PruneHistory(t *testing.T) {
	ctx := context.Background()
	q := setupRedisQueue(t)
	require.NoError(t, q.Enqueue(ctx, testJob(models.NewULID(), 0)))

	got, err := q.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, got))

	n, err := q.PruneHistory(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.PruneHistory(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	remaining, err := q.client.ZCard(ctx, q.keys.finished()).Result()
	require.NoError(t, err)
	assert.Zero(t, remaining)
	_, err = q.load(ctx, got.ID.String())
	assert.Error(t, err)

	// Counters survive pruning.
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestResolve_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.QueueConfig{
		Backend:      config.QueueBackendRedis,
		ProbeTimeout: time.Second,
		Redis:        config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "reelcast"},
	}
	b := Resolve(context.Background(), cfg, Dependencies{}, nil)

	assert.Equal(t, ModeRedis, b.Mode)
	assert.True(t, b.Durable())
	assert.NoError(t, b.ProbeErr)
	assert.NoError(t, b.Close())
}
