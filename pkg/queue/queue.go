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
// Package queue moves jobs from the API to the worker pool. Delivery
// is at-least-once: consumers must be idempotent on the execution or
// job id.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job tasks understood by the worker.
const (
	TaskExecuteWorkflow    = "execute_workflow"
	TaskExecuteAgentTask   = "execute_agent_task"
	TaskSendScheduledEmail = "send_scheduled_email"
)

// Priorities, highest first. Consumers drain high before default
// before low.
const (
	PriorityHigh    = "high"
	PriorityDefault = "default"
	PriorityLow     = "low"
)

// priorityOrder is the polling order for consumers.
var priorityOrder = []string{PriorityHigh, PriorityDefault, PriorityLow}

// Job is the envelope pushed onto the queue.
type Job struct {
	ID          string                 `json:"id"`
	Task        string                 `json:"task"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	TenantID    string                 `json:"tenant_id"`
	UserID      string                 `json:"user_id,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Priority    string                 `json:"priority"`
	EnqueuedAt  time.Time              `json:"enqueued_at"`
}

// Queue is the producer/consumer surface. Implementations must be
// safe for concurrent use.
type Queue interface {
	// Enqueue pushes a job. The job's ID, Priority, and EnqueuedAt
	// are filled in when empty.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue pops the next job, draining higher priorities first.
	// It blocks up to timeout and returns (nil, nil) when nothing
	// arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// Len reports the number of pending jobs at one priority.
	Len(ctx context.Context, priority string) (int64, error)

	// Close stops the queue. Pending jobs stay where they are.
	Close() error
}

// validateJob normalizes a job before it goes on the wire.
func validateJob(job *Job, now func() time.Time) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	switch job.Task {
	case TaskExecuteWorkflow, TaskExecuteAgentTask, TaskSendScheduledEmail:
	default:
		return fmt.Errorf("unknown job task %q", job.Task)
	}
	if job.TenantID == "" {
		return fmt.Errorf("job has no tenant id")
	}
	switch job.Priority {
	case "":
		job.Priority = PriorityDefault
	case PriorityHigh, PriorityDefault, PriorityLow:
	default:
		return fmt.Errorf("unknown priority %q", job.Priority)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now()
	}
	return nil
}
