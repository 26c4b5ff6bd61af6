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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryQueue keeps jobs in process memory. Used for tests and
// single-node runs; jobs do not survive a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string][]*Job

	// notify wakes blocked consumers. Lossy on purpose: a woken
	// consumer re-checks the lists, and Dequeue times out otherwise.
	notify chan struct{}
	done   chan struct{}

	clock  func() time.Time
	closed atomic.Bool
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(map[string][]*Job),
		notify: make(chan struct{}, 128),
		done:   make(chan struct{}),
		clock:  time.Now,
	}
}

// Enqueue appends the job to its priority list.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	if q.closed.Load() {
		return fmt.Errorf("queue is closed")
	}
	if err := validateJob(job, q.clock); err != nil {
		return err
	}

	q.mu.Lock()
	q.jobs[job.Priority] = append(q.jobs[job.Priority], job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the next job, highest priority first, blocking up to
// timeout.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if q.closed.Load() {
			return nil, fmt.Errorf("queue is closed")
		}
		if job := q.pop(); job != nil {
			return job, nil
		}
		select {
		case <-q.notify:
		case <-q.done:
			return nil, fmt.Errorf("queue is closed")
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, priority := range priorityOrder {
		list := q.jobs[priority]
		if len(list) == 0 {
			continue
		}
		job := list[0]
		q.jobs[priority] = list[1:]
		return job
	}
	return nil
}

// Len reports the number of pending jobs at one priority.
func (q *MemoryQueue) Len(ctx context.Context, priority string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs[priority])), nil
}

// Close marks the queue closed and wakes blocked consumers.
func (q *MemoryQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(q.done)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
