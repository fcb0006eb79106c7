package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobList = "reelforge:jobs"

// RedisQ dispatches job IDs to workers over a Redis list. It is advisory
// only: the durable job state lives in Postgres, and the stale-job scanner
// picks up anything a dropped dispatch leaves behind.
type RedisQ struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *RedisQ {
	return &RedisQ{rdb: rdb}
}

// Enqueue pushes a job id for the next available worker.
func (q *RedisQ) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, jobList, jobID).Err()
}

// Dequeue blocks up to the given duration for a job id. It returns an empty
// string when the wait times out with nothing queued.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, block, jobList).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}
