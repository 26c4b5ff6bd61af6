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
package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

type schedulerHarness struct {
	t     *testing.T
	store *storage.Store
	eng   *workflow.Engine
	queue *queue.MemoryQueue
	clock *testClock
	sched *Scheduler
}

// newSchedulerHarness wires a scheduler against real storage and a
// real engine. The clock starts on a Friday morning in Paris so
// weekday cron math is easy to eyeball.
func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := storage.Open(context.Background(), storage.Config{
		DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "atelier.db"),
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &testClock{now: time.Date(2024, 1, 5, 10, 0, 0, 0, paris(t))}

	eng, err := workflow.New(workflow.Config{
		Store:  store,
		Logger: logger,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	sched, err := New(Config{
		Store:  store,
		Engine: eng,
		Queue:  q,
		Logger: logger,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	return &schedulerHarness{t: t, store: store, eng: eng, queue: q, clock: clock, sched: sched}
}

// createWorkflow persists a minimal valid workflow for tenant-1.
func (h *schedulerHarness) createWorkflow(name, trigger string, triggerConfig map[string]interface{}) *types.Workflow {
	h.t.Helper()
	wf := &types.Workflow{
		TenantID:      "tenant-1",
		Name:          name,
		Trigger:       trigger,
		TriggerConfig: triggerConfig,
		Tasks: []types.WorkflowTask{{
			Order:  "1",
			Name:   "marque",
			Kind:   types.TaskSetVariable,
			Config: map[string]interface{}{"var_name": "fait", "var_value": true},
		}},
		Active: true,
	}
	require.NoError(h.t, workflow.Validate(wf))
	require.NoError(h.t, h.store.CreateWorkflow(context.Background(), wf))
	return wf
}

// drainQueue pops every pending job without blocking.
func (h *schedulerHarness) drainQueue() []*queue.Job {
	h.t.Helper()
	var jobs []*queue.Job
	for {
		job, err := h.queue.Dequeue(context.Background(), 10*time.Millisecond)
		require.NoError(h.t, err)
		if job == nil {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.ErrorContains(t, err, "Store is required")
}

func TestNewRejectsUnknownDefaultTimezone(t *testing.T) {
	h := newSchedulerHarness(t)
	_, err := New(Config{
		Store:           h.store,
		Engine:          h.eng,
		Queue:           h.queue,
		DefaultTimezone: "Mars/Olympus",
	})
	require.ErrorContains(t, err, "unknown default timezone")
}

func TestResolvePreset(t *testing.T) {
	cases := map[string]string{
		PresetDailyMorning:    "0 9 * * *",
		PresetDailyEvening:    "0 18 * * *",
		PresetWeekdaysMorning: "0 9 * * 1-5",
		PresetWeeklyMonday:    "0 9 * * 1",
		PresetMonthlyFirst:    "0 9 1 * *",
		PresetHourly:          "0 * * * *",
	}
	for name, want := range cases {
		expr, err := ResolvePreset(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, expr, name)
	}

	_, err := ResolvePreset("every_full_moon")
	require.ErrorIs(t, err, types.ErrConfig)
	require.ErrorContains(t, err, "unknown schedule preset")
}

// Weekday cron evaluated in Paris: the next fire after Friday 10:00
// skips the weekend and lands on Monday 09:00 local.
func TestCreateScheduleComputesWeekdayNextRun(t *testing.T) {
	h := newSchedulerHarness(t)
	wf := h.createWorkflow("Relance client", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(context.Background(), CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		CronExpr:   "0 9 * * 1-5",
		Timezone:   "Europe/Paris",
	})
	require.NoError(t, err)

	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, paris(t))
	assert.True(t, job.NextRun.Equal(monday), "next run %s, want %s", job.NextRun, monday)
	assert.True(t, job.Active)
	assert.Equal(t, "Europe/Paris", job.Timezone)
}

func TestCreateScheduleTranslatesPreset(t *testing.T) {
	h := newSchedulerHarness(t)
	wf := h.createWorkflow("Rapport du soir", types.TriggerCron, map[string]interface{}{"cron": "0 18 * * *"})

	job, err := h.sched.CreateSchedule(context.Background(), CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetDailyEvening,
	})
	require.NoError(t, err)

	assert.Equal(t, "0 18 * * *", job.CronExpr)
	// Default timezone applies when the request leaves it out.
	assert.Equal(t, "Europe/Paris", job.Timezone)
	tonight := time.Date(2024, 1, 5, 18, 0, 0, 0, paris(t))
	assert.True(t, job.NextRun.Equal(tonight), "next run %s, want %s", job.NextRun, tonight)

	reloaded, err := h.store.ScheduledJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 18 * * *", reloaded.CronExpr)
}

func TestCreateScheduleRejections(t *testing.T) {
	h := newSchedulerHarness(t)
	wf := h.createWorkflow("Relance", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * *"})

	cases := []struct {
		name    string
		req     CreateRequest
		wantErr string
	}{
		{"missing workflow", CreateRequest{TenantID: "tenant-1", CronExpr: "0 9 * * *"}, "workflow_id"},
		{"missing tenant", CreateRequest{WorkflowID: wf.ID, CronExpr: "0 9 * * *"}, "tenant_id"},
		{"preset and cron", CreateRequest{WorkflowID: wf.ID, TenantID: "tenant-1", Preset: PresetHourly, CronExpr: "0 9 * * *"}, "mutually exclusive"},
		{"neither preset nor cron", CreateRequest{WorkflowID: wf.ID, TenantID: "tenant-1"}, "preset or cron_expr"},
		{"unknown preset", CreateRequest{WorkflowID: wf.ID, TenantID: "tenant-1", Preset: "biweekly"}, "unknown schedule preset"},
		{"invalid cron", CreateRequest{WorkflowID: wf.ID, TenantID: "tenant-1", CronExpr: "9am sharp"}, "invalid cron"},
		{"unknown timezone", CreateRequest{WorkflowID: wf.ID, TenantID: "tenant-1", CronExpr: "0 9 * * *", Timezone: "Mars/Olympus"}, "unknown timezone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.sched.CreateSchedule(context.Background(), tc.req)
			require.ErrorIs(t, err, types.ErrConfig)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

// A due schedule produces exactly one job envelope, a pending
// execution, and an advanced cadence.
func TestTickFiresDueSchedule(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Relance client", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)

	// Nothing due before the slot.
	h.sched.Tick(ctx)
	assert.Empty(t, h.drainQueue())

	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, paris(t))
	h.clock.Set(monday)
	h.sched.Tick(ctx)

	jobs := h.drainQueue()
	require.Len(t, jobs, 1)
	envelope := jobs[0]
	assert.Equal(t, queue.TaskExecuteWorkflow, envelope.Task)
	assert.Equal(t, wf.ID, envelope.WorkflowID)
	assert.Equal(t, "tenant-1", envelope.TenantID)
	assert.Equal(t, queue.PriorityDefault, envelope.Priority)
	require.NotEmpty(t, envelope.ExecutionID)

	exec, err := h.store.Execution(ctx, envelope.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecPending, exec.Status)
	assert.Equal(t, TriggerSchedule, exec.Trigger)
	assert.Equal(t, wf.ID, exec.WorkflowID)

	reloaded, err := h.store.ScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastRun)
	assert.True(t, reloaded.LastRun.Equal(monday), "last run %s, want %s", reloaded.LastRun, monday)
	assert.Equal(t, envelope.ExecutionID, reloaded.LastExecutionID)
	tuesday := time.Date(2024, 1, 9, 9, 0, 0, 0, paris(t))
	assert.True(t, reloaded.NextRun.Equal(tuesday), "next run %s, want %s", reloaded.NextRun, tuesday)

	// The slot is spent; an immediate second tick fires nothing.
	h.sched.Tick(ctx)
	assert.Empty(t, h.drainQueue())
}

// Fires missed while the process was down collapse into one fire on
// the first tick after restart.
func TestTickCoalescesMissedFires(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Rapport quotidien", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)

	// Monday and Tuesday slots both pass unobserved.
	wednesday := time.Date(2024, 1, 10, 10, 30, 0, 0, paris(t))
	h.clock.Set(wednesday)
	h.sched.Tick(ctx)

	jobs := h.drainQueue()
	require.Len(t, jobs, 1)

	reloaded, err := h.store.ScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastRun)
	assert.True(t, reloaded.LastRun.Equal(wednesday))
	thursday := time.Date(2024, 1, 11, 9, 0, 0, 0, paris(t))
	assert.True(t, reloaded.NextRun.Equal(thursday), "next run %s, want %s", reloaded.NextRun, thursday)
}

// A fire whose claim loses the compare-and-swap enqueues nothing.
func TestFireSkipsLostClaim(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Relance", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)

	// Another instance already advanced the row: this copy's view of
	// next_run is stale.
	stale := *job
	stale.NextRun = job.NextRun.Add(-24 * time.Hour)

	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, paris(t))
	h.clock.Set(monday)
	require.NoError(t, h.sched.fire(ctx, &stale, monday))

	assert.Empty(t, h.drainQueue())
	reloaded, err := h.store.ScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastRun)
	assert.True(t, reloaded.NextRun.Equal(job.NextRun))
}

func TestPauseAndResumeSchedule(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Relance", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)

	paused, err := h.sched.PauseSchedule(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	// The Monday slot passes while paused; nothing fires.
	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, paris(t))
	h.clock.Set(monday)
	h.sched.Tick(ctx)
	assert.Empty(t, h.drainQueue())

	// Resuming Monday at 10:00 schedules Tuesday, not the spent slot.
	h.clock.Set(monday.Add(time.Hour))
	resumed, err := h.sched.ResumeSchedule(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, resumed.Active)
	tuesday := time.Date(2024, 1, 9, 9, 0, 0, 0, paris(t))
	assert.True(t, resumed.NextRun.Equal(tuesday), "next run %s, want %s", resumed.NextRun, tuesday)

	h.sched.Tick(ctx)
	assert.Empty(t, h.drainQueue())
}

func TestTriggerNowKeepsCadence(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Relance", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	job, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)

	exec, err := h.sched.TriggerNow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecPending, exec.Status)
	assert.Equal(t, types.TriggerManual, exec.Trigger)

	jobs := h.drainQueue()
	require.Len(t, jobs, 1)
	assert.Equal(t, exec.ID, jobs[0].ExecutionID)

	reloaded, err := h.store.ScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, reloaded.LastExecutionID)
	assert.True(t, reloaded.NextRun.Equal(job.NextRun), "cadence moved")
	assert.Nil(t, reloaded.LastRun)
}

func TestTriggerNowUnknownSchedule(t *testing.T) {
	h := newSchedulerHarness(t)
	_, err := h.sched.TriggerNow(context.Background(), "sch-inconnu")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// The tick loop fires on its own cadence without manual ticks.
func TestStartFiresDueScheduleInBackground(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow("Relance", types.TriggerCron, map[string]interface{}{"cron": "0 9 * * 1-5"})

	_, err := h.sched.CreateSchedule(ctx, CreateRequest{
		WorkflowID: wf.ID,
		TenantID:   "tenant-1",
		Preset:     PresetWeekdaysMorning,
	})
	require.NoError(t, err)
	h.clock.Set(time.Date(2024, 1, 8, 9, 0, 0, 0, paris(t)))

	fast, err := New(Config{
		Store:        h.store,
		Engine:       h.eng,
		Queue:        h.queue,
		Logger:       zaptest.NewLogger(t),
		Clock:        h.clock.Now,
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	fast.Start(ctx)
	defer fast.Stop()

	require.Eventually(t, func() bool {
		n, err := h.queue.Len(ctx, queue.PriorityDefault)
		return err == nil && n > 0
	}, 3*time.Second, 10*time.Millisecond)

	fast.Stop()
	jobs := h.drainQueue()
	require.Len(t, jobs, 1, "the spent slot must not refire")
}
