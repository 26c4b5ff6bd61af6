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

// Package scheduler fires workflows on cron cadences and business
// events. It polls the store rather than keeping timers in memory, so
// any number of instances can share one database: the fire itself is
// a compare-and-swap on the schedule row and exactly one instance
// wins each slot.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	// Embedded zone data keeps timezone math working in containers
	// that ship no tz database.
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

const (
	defaultTickInterval = 15 * time.Minute
	defaultTimezone     = "Europe/Paris"
)

// TriggerSchedule marks executions started by the cron planner. It
// complements the manual and event execution triggers.
const TriggerSchedule = "schedule"

// Store is the slice of the storage layer the scheduler drives.
type Store interface {
	CreateScheduledJob(ctx context.Context, job *types.ScheduledJob) error
	ScheduledJob(ctx context.Context, id string) (*types.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, job *types.ScheduledJob) error
	DueScheduledJobs(ctx context.Context, now time.Time) ([]*types.ScheduledJob, error)
	ClaimScheduledJob(ctx context.Context, job *types.ScheduledJob, observed time.Time) (bool, error)
	ListActiveEventWorkflows(ctx context.Context, event string) ([]*types.Workflow, error)
}

// Engine is the slice of the workflow engine the scheduler hands work
// to. Fires only prepare executions; running them is the worker's
// job.
type Engine interface {
	PrepareExecution(ctx context.Context, req workflow.ExecuteRequest) (*types.Execution, error)
	SignalEvent(ctx context.Context, tenantID, event string) ([]string, error)
}

// Config assembles a Scheduler.
type Config struct {
	Store  Store
	Engine Engine
	Queue  queue.Queue

	Logger *zap.Logger
	Clock  func() time.Time

	// TickInterval is the due-schedule poll cadence. Zero means 15
	// minutes.
	TickInterval time.Duration

	// DefaultTimezone applies to schedules created without one. Zero
	// means Europe/Paris.
	DefaultTimezone string
}

// Scheduler plans cron fires and routes business events to workflows.
type Scheduler struct {
	store    Store
	engine   Engine
	queue    queue.Queue
	logger   *zap.Logger
	clock    func() time.Time
	interval time.Duration
	timezone string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler from cfg.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: Store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("scheduler: Engine is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("scheduler: Queue is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	timezone := cfg.DefaultTimezone
	if timezone == "" {
		timezone = defaultTimezone
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("scheduler: unknown default timezone %q", timezone)
	}
	return &Scheduler{
		store:    cfg.Store,
		engine:   cfg.Engine,
		queue:    cfg.Queue,
		logger:   logger,
		clock:    clock,
		interval: interval,
		timezone: timezone,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the tick loop. The first tick runs immediately, so
// fires missed while the process was down go out on restart.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Scheduler started",
		zap.Duration("tick_interval", s.interval),
		zap.String("default_timezone", s.timezone))
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick fires every schedule whose next run is due. Safe to run
// concurrently with other instances sharing the store: the row claim
// decides the single winner per slot.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()
	due, err := s.store.DueScheduledJobs(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list due schedules", zap.Error(err))
		return
	}
	for _, job := range due {
		if err := s.fire(ctx, job, now); err != nil {
			s.logger.Error("Failed to fire schedule",
				zap.String("schedule_id", job.ID),
				zap.String("workflow_id", job.WorkflowID),
				zap.Error(err))
		}
	}
}

// fire claims one due slot and hands the run to the queue. The next
// run is computed from now, not from the missed slot, so a backlog
// accumulated during downtime collapses into a single fire.
func (s *Scheduler) fire(ctx context.Context, job *types.ScheduledJob, now time.Time) error {
	observed := job.NextRun
	next, err := s.nextAfter(job.CronExpr, job.Timezone, now)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.ID, err)
	}

	firedAt := now
	executionID := uuid.NewString()
	job.LastRun = &firedAt
	job.NextRun = next
	job.LastExecutionID = executionID

	claimed, err := s.store.ClaimScheduledJob(ctx, job, observed)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("Schedule claimed by another instance",
			zap.String("schedule_id", job.ID))
		return nil
	}

	if _, err := s.engine.PrepareExecution(ctx, workflow.ExecuteRequest{
		TenantID:    job.TenantID,
		WorkflowID:  job.WorkflowID,
		ExecutionID: executionID,
		Trigger:     TriggerSchedule,
	}); err != nil {
		return fmt.Errorf("prepare execution for schedule %s: %w", job.ID, err)
	}
	if err := s.enqueueExecution(ctx, executionID, job.WorkflowID, job.TenantID, nil); err != nil {
		return fmt.Errorf("enqueue schedule %s: %w", job.ID, err)
	}

	s.logger.Info("Fired schedule",
		zap.String("schedule_id", job.ID),
		zap.String("workflow_id", job.WorkflowID),
		zap.String("execution_id", executionID),
		zap.Time("next_run", next))
	return nil
}

// TriggerNow runs a schedule's workflow immediately without touching
// its cron cadence.
func (s *Scheduler) TriggerNow(ctx context.Context, scheduleID string) (*types.Execution, error) {
	job, err := s.store.ScheduledJob(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	exec, err := s.engine.PrepareExecution(ctx, workflow.ExecuteRequest{
		TenantID:   job.TenantID,
		WorkflowID: job.WorkflowID,
		Trigger:    types.TriggerManual,
	})
	if err != nil {
		return nil, err
	}
	if err := s.enqueueExecution(ctx, exec.ID, job.WorkflowID, job.TenantID, nil); err != nil {
		return nil, err
	}

	job.LastExecutionID = exec.ID
	if err := s.store.UpdateScheduledJob(ctx, job); err != nil {
		s.logger.Warn("Failed to record manual fire",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
	}

	s.logger.Info("Triggered schedule",
		zap.String("schedule_id", scheduleID),
		zap.String("execution_id", exec.ID))
	return exec, nil
}

func (s *Scheduler) enqueueExecution(ctx context.Context, executionID, workflowID, tenantID string, input map[string]interface{}) error {
	return s.queue.Enqueue(ctx, &queue.Job{
		Task:        queue.TaskExecuteWorkflow,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		TenantID:    tenantID,
		Input:       input,
	})
}

// nextAfter computes the first fire instant after the given time for
// a cron expression evaluated in tz.
func (s *Scheduler) nextAfter(expr, tz string, after time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return spec.Next(after.In(s.location(tz))), nil
}

// location resolves a schedule's timezone, falling back to the
// scheduler default and then UTC rather than refusing to fire.
func (s *Scheduler) location(tz string) *time.Location {
	if tz == "" {
		tz = s.timezone
	}
	loc, err := time.LoadLocation(tz)
	if err == nil {
		return loc
	}
	s.logger.Warn("Unknown schedule timezone, using default",
		zap.String("timezone", tz))
	loc, err = time.LoadLocation(s.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
