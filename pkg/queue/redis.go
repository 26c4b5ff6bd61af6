// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueueConfig configures a Redis-backed queue.
type RedisQueueConfig struct {
	// Redis is the client used for list operations. Required.
	Redis *redis.Client

	// Logger for queue diagnostics. Nil means no logging.
	Logger *zap.Logger

	// Clock stamps EnqueuedAt. Nil means time.Now.
	Clock func() time.Time
}

// RedisQueue stores jobs in Redis lists, one per priority. Jobs
// survive process restarts; BRPOP hands each job to exactly one
// consumer.
type RedisQueue struct {
	rdb    *redis.Client
	logger *zap.Logger
	clock  func() time.Time
	closed atomic.Bool
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(config RedisQueueConfig) (*RedisQueue, error) {
	if config.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &RedisQueue{
		rdb:    config.Redis,
		logger: config.Logger,
		clock:  config.Clock,
	}, nil
}

// queueKey returns the Redis list for a priority.
func queueKey(priority string) string {
	return fmt.Sprintf("queue:%s", priority)
}

// queueKeys returns the polling order for BRPOP, highest first.
func queueKeys() []string {
	keys := make([]string, len(priorityOrder))
	for i, p := range priorityOrder {
		keys[i] = queueKey(p)
	}
	return keys
}

// Enqueue pushes the job onto its priority list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if q.closed.Load() {
		return fmt.Errorf("queue is closed")
	}
	if err := validateJob(job, q.clock); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey(job.Priority), payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("task", job.Task),
		zap.String("priority", job.Priority),
		zap.String("tenant_id", job.TenantID))
	return nil
}

// Dequeue pops the next job with BRPOP across all priority lists.
// BRPOP checks the keys in order, so high drains before default
// before low.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if q.closed.Load() {
		return nil, fmt.Errorf("queue is closed")
	}
	res, err := q.rdb.BRPop(ctx, timeout, queueKeys()...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	q.logger.Debug("job dequeued",
		zap.String("job_id", job.ID),
		zap.String("task", job.Task),
		zap.String("priority", job.Priority))
	return &job, nil
}

// Len reports the length of one priority list.
func (q *RedisQueue) Len(ctx context.Context, priority string) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey(priority)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Close marks the queue closed. The Redis client is owned by the
// caller; pending jobs stay in their lists.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

var _ Queue = (*RedisQueue)(nil)
