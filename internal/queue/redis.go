package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/models"
)

const (
	// priorityWeight separates priority bands in the waiting score. Enqueue
	// times in milliseconds stay below it, so within a band older jobs sort first.
	priorityWeight = 1e13
	// maxPriority bounds priorities so scores stay exact in a float64.
	maxPriority = 400
	// promoteBatch caps how many due delayed jobs one acquire promotes.
	promoteBatch = 100
)

// acquireScript promotes due delayed jobs into the waiting set and pops the
// best waiting job into the running set in one step.
//
// KEYS: waiting, delayed, running, priorities. ARGV: now (ms), batch, weight.
var acquireScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	local prio = tonumber(redis.call('HGET', KEYS[4], id) or '0')
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], (-prio * tonumber(ARGV[3])) + tonumber(ARGV[1]), id)
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[1], popped[1])
return popped[1]
`)

// redisKeys names every structure the queue uses under one prefix.
type redisKeys struct {
	prefix string
}

func newRedisKeys(prefix string) redisKeys {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "reelcast"
	}
	return redisKeys{prefix: prefix}
}

func (k redisKeys) key(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func (k redisKeys) waiting() string    { return k.key("queue", "waiting") }
func (k redisKeys) delayed() string    { return k.key("queue", "delayed") }
func (k redisKeys) running() string    { return k.key("queue", "running") }
func (k redisKeys) finished() string   { return k.key("queue", "finished") }
func (k redisKeys) jobs() string       { return k.key("jobs") }
func (k redisKeys) priorities() string { return k.key("priorities") }
func (k redisKeys) completed() string  { return k.key("stats", "completed") }
func (k redisKeys) failed() string     { return k.key("stats", "failed") }

func (k redisKeys) asset(id models.ULID) string { return k.key("asset", id.String()) }

func clampPriority(p int) int {
	return max(-maxPriority, min(p, maxPriority))
}

// waitingScore orders the waiting set: higher priority first, then earlier enqueue.
func waitingScore(priority int, at time.Time) float64 {
	return float64(-clampPriority(priority))*priorityWeight + float64(at.UnixMilli())
}

func msScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// RedisQueue implements JobQueue on Redis.
type RedisQueue struct {
	client *redis.Client
	keys   redisKeys
}

// NewRedisQueue creates a client for cfg. The connection is not checked;
// call Ping.
func NewRedisQueue(cfg config.RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisQueueWithClient(client, cfg.KeyPrefix)
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, keyPrefix string) *RedisQueue {
	return &RedisQueue{client: client, keys: newRedisKeys(keyPrefix)}
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.ProcessingJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	locked, err := q.client.SetNX(ctx, q.keys.asset(job.AssetID), job.ID.String(), 0).Result()
	if err != nil {
		return fmt.Errorf("locking asset %s: %w", job.AssetID, err)
	}
	if !locked {
		return ErrAssetBusy
	}

	payload, err := json.Marshal(job)
	if err != nil {
		q.client.Del(ctx, q.keys.asset(job.AssetID))
		return fmt.Errorf("encoding job: %w", err)
	}

	id := job.ID.String()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.jobs(), id, payload)
		pipe.HSet(ctx, q.keys.priorities(), id, clampPriority(job.Priority))
		pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: waitingScore(job.Priority, job.CreatedAt), Member: id})
		return nil
	})
	if err != nil {
		q.client.Del(ctx, q.keys.asset(job.AssetID))
		return fmt.Errorf("enqueueing job %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Acquire(ctx context.Context, workerID string) (*models.ProcessingJob, error) {
	keys := []string{q.keys.waiting(), q.keys.delayed(), q.keys.running(), q.keys.priorities()}
	res, err := acquireScript.Run(ctx, q.client, keys, time.Now().UnixMilli(), promoteBatch, priorityWeight).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobs
		}
		return nil, fmt.Errorf("acquiring job: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("acquiring job: unexpected script result %T", res)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	job.MarkRunning(workerID)
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *models.ProcessingJob) error {
	job.MarkCompleted()
	return q.settle(ctx, job, q.keys.completed())
}

func (q *RedisQueue) Fail(ctx context.Context, job *models.ProcessingJob, cause error) error {
	job.MarkFailed(cause)
	return q.settle(ctx, job, q.keys.failed())
}

func (q *RedisQueue) settle(ctx context.Context, job *models.ProcessingJob, counter string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	id := job.ID.String()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.jobs(), id, payload)
		pipe.HDel(ctx, q.keys.priorities(), id)
		pipe.ZRem(ctx, q.keys.running(), id)
		pipe.ZAdd(ctx, q.keys.finished(), redis.Z{Score: msScore(time.Now()), Member: id})
		pipe.Incr(ctx, counter)
		pipe.Del(ctx, q.keys.asset(job.AssetID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("settling job %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *models.ProcessingJob, delay time.Duration) error {
	job.ScheduleRetry(nil, delay)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	id := job.ID.String()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.jobs(), id, payload)
		pipe.ZRem(ctx, q.keys.running(), id)
		pipe.ZAdd(ctx, q.keys.delayed(), redis.Z{Score: msScore(*job.NextRunAt), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.keys.waiting())
	delayed := pipe.ZCard(ctx, q.keys.delayed())
	running := pipe.ZCard(ctx, q.keys.running())
	completed := pipe.Get(ctx, q.keys.completed())
	failed := pipe.Get(ctx, q.keys.failed())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.QueueStats{}, fmt.Errorf("reading queue stats: %w", err)
	}

	stats := models.QueueStats{
		Waiting:   waiting.Val() + delayed.Val(),
		Active:    running.Val(),
		Completed: counterValue(completed),
		Failed:    counterValue(failed),
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed
	return stats, nil
}

func counterValue(cmd *redis.StringCmd) int64 {
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}

func (q *RedisQueue) HasActiveJob(ctx context.Context, assetID models.ULID) (bool, error) {
	n, err := q.client.Exists(ctx, q.keys.asset(assetID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking asset lock: %w", err)
	}
	return n > 0, nil
}

func (q *RedisQueue) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	ids, err := q.idsBefore(ctx, q.keys.finished(), before)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.keys.jobs(), ids...)
		pipe.ZRem(ctx, q.keys.finished(), toMembers(ids)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning finished jobs: %w", err)
	}
	return int64(len(ids)), nil
}

func (q *RedisQueue) RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	ids, err := q.idsBefore(ctx, q.keys.running(), lockedBefore)
	if err != nil {
		return 0, err
	}

	var recovered int64
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			return recovered, err
		}
		job.Status = models.JobStatusPending
		job.LockedBy = ""
		job.LockedAt = nil

		payload, err := json.Marshal(job)
		if err != nil {
			return recovered, fmt.Errorf("encoding job: %w", err)
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.keys.jobs(), id, payload)
			pipe.ZRem(ctx, q.keys.running(), id)
			pipe.ZAdd(ctx, q.keys.waiting(), redis.Z{Score: waitingScore(job.Priority, job.CreatedAt), Member: id})
			return nil
		})
		if err != nil {
			return recovered, fmt.Errorf("recovering job %s: %w", id, err)
		}
		recovered++
	}
	return recovered, nil
}

func (q *RedisQueue) idsBefore(ctx context.Context, key string, before time.Time) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", key, err)
	}
	return ids, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*models.ProcessingJob, error) {
	raw, err := q.client.HGet(ctx, q.keys.jobs(), id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	var job models.ProcessingJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, job *models.ProcessingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	if err := q.client.HSet(ctx, q.keys.jobs(), job.ID.String(), payload).Err(); err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

func toMembers(ids []string) []any {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
