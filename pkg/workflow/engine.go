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

// Package workflow runs declarative multi-step task graphs. An
// execution walks its workflow's tasks in order-key sequence,
// interpolating values between steps and persisting after every task
// so a crash resumes at the cursor instead of starting over. Human
// approvals and event waits park the execution; Approve and
// SignalEvent release it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
)

// ErrNotWaitingApproval is returned by Approve when the execution is
// not parked on a human-approval gate.
var ErrNotWaitingApproval = errors.New("not waiting for approval")

const (
	// defaultMaxTransitions caps cursor moves per execution so a
	// condition cycle cannot spin forever.
	defaultMaxTransitions = 100

	// maxGotoJumps bounds error_goto jumps per execution.
	maxGotoJumps = 25

	// maxLoopIterations bounds one loop task's item count.
	maxLoopIterations = 100

	httpTaskTimeout      = 30 * time.Second
	maxHTTPResponseBytes = 10 << 20
)

// Store is the persistence surface the engine needs.
type Store interface {
	Workflow(ctx context.Context, id string) (*types.Workflow, error)
	CreateExecution(ctx context.Context, exec *types.Execution) error
	Execution(ctx context.Context, id string) (*types.Execution, error)
	SaveExecutionStep(ctx context.Context, exec *types.Execution) error
}

// Completer is the slice of the model router prompt tasks call.
type Completer interface {
	Complete(ctx context.Context, req router.RouteRequest) (*types.Completion, error)
}

// ToolRunner invokes an integration tool on behalf of a tenant.
type ToolRunner interface {
	Run(ctx context.Context, tenantID, toolID string, params map[string]interface{}) (interface{}, error)
}

// PromptSource resolves stored prompt templates by id.
type PromptSource interface {
	Template(ctx context.Context, tenantID, id string) (string, error)
}

// Config assembles an Engine. Store is required; the other
// collaborators are optional and tasks that need an absent one fail
// with a descriptive error.
type Config struct {
	Store   Store
	Bus     events.Bus
	Router  Completer
	Tools   ToolRunner
	Prompts PromptSource

	// HTTPClient serves http_request tasks. Nil means a client with
	// the task timeout.
	HTTPClient *http.Client

	Logger *zap.Logger
	Clock  func() time.Time

	// MaxTransitions caps cursor moves per execution. Zero means the
	// default of 100.
	MaxTransitions int
}

// Engine plans and runs workflow executions.
type Engine struct {
	store          Store
	bus            events.Bus
	router         Completer
	tools          ToolRunner
	prompts        PromptSource
	httpClient     *http.Client
	logger         *zap.Logger
	clock          func() time.Time
	maxTransitions int

	// sleep is swapped out in tests so retries and delay waits do not
	// block wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	cancels      map[string]context.CancelFunc
	cancelFlags  map[string]bool
	eventWaiters map[string]map[string]bool
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("workflow: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpTaskTimeout}
	}
	maxTransitions := cfg.MaxTransitions
	if maxTransitions <= 0 {
		maxTransitions = defaultMaxTransitions
	}
	return &Engine{
		store:          cfg.Store,
		bus:            cfg.Bus,
		router:         cfg.Router,
		tools:          cfg.Tools,
		prompts:        cfg.Prompts,
		httpClient:     client,
		logger:         logger,
		clock:          clock,
		maxTransitions: maxTransitions,
		sleep:          sleepContext,
		cancels:        map[string]context.CancelFunc{},
		cancelFlags:    map[string]bool{},
		eventWaiters:   map[string]map[string]bool{},
	}, nil
}

// ExecuteRequest starts or resumes one workflow execution. Setting
// ExecutionID resumes an existing record from its saved cursor;
// otherwise Input is validated and a fresh record is created.
type ExecuteRequest struct {
	TenantID    string
	WorkflowID  string
	ExecutionID string
	UserID      string
	Trigger     string
	Input       map[string]interface{}
}

// PrepareExecution validates the input and creates a pending
// execution without running it. The scheduler uses this to hand work
// to the queue; Execute with the returned id runs it. When
// req.ExecutionID is set it becomes the new record's id, letting the
// caller bind the id before the record exists.
func (e *Engine) PrepareExecution(ctx context.Context, req ExecuteRequest) (*types.Execution, error) {
	wf, err := e.store.Workflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	// Reads as missing so one tenant cannot probe another's workflows.
	if req.TenantID != "" && wf.TenantID != req.TenantID {
		return nil, fmt.Errorf("workflow %s does not belong to tenant %s: %w", req.WorkflowID, req.TenantID, storage.ErrNotFound)
	}
	p, err := buildPlan(wf)
	if err != nil {
		return nil, err
	}
	input, err := validateInput(wf.Inputs, req.Input)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]interface{}, len(input))
	for k, v := range input {
		vars[k] = v
	}
	id := req.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = types.TriggerManual
	}
	exec := &types.Execution{
		ID:               id,
		WorkflowID:       wf.ID,
		TenantID:         wf.TenantID,
		UserID:           req.UserID,
		Status:           types.ExecPending,
		Trigger:          trigger,
		Input:            input,
		Variables:        vars,
		CurrentTaskOrder: p.first(),
		StartedAt:        e.clock(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Execute runs the workflow until it completes, fails, parks, or is
// cancelled. The returned execution carries the terminal (or parked)
// state; an error is returned only when the run could not proceed at
// all, such as failed input validation or a store failure.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*types.Execution, error) {
	var exec *types.Execution
	if req.ExecutionID == "" {
		prepared, err := e.PrepareExecution(ctx, req)
		if err != nil {
			return nil, err
		}
		exec = prepared
	} else {
		loaded, err := e.store.Execution(ctx, req.ExecutionID)
		if err != nil {
			return nil, err
		}
		if req.TenantID != "" && loaded.TenantID != req.TenantID {
			return nil, fmt.Errorf("execution %s does not belong to tenant %s: %w", req.ExecutionID, req.TenantID, storage.ErrNotFound)
		}
		exec = loaded
		if exec.Status.Terminal() {
			return exec, nil
		}
	}

	wf, err := e.store.Workflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	p, err := buildPlan(wf)
	if err != nil {
		return nil, err
	}

	fresh := exec.Status == types.ExecPending
	exec.Status = types.ExecRunning
	if fresh {
		e.logger.Info("workflow execution started",
			zap.String("execution_id", exec.ID),
			zap.String("workflow_id", wf.ID),
			zap.String("trigger", exec.Trigger))
		e.publish(ctx, events.Event{
			Type:     events.TypeWorkflowStarted,
			TenantID: exec.TenantID,
			UserID:   exec.UserID,
			Data: map[string]interface{}{
				"execution_id":  exec.ID,
				"workflow_id":   wf.ID,
				"workflow_name": wf.Name,
			},
		})
	}
	return e.run(ctx, p, exec)
}

// run drives the cursor until a terminal state or a park. Task bodies
// run under a cancellable child context so Cancel can interrupt a
// sleeping or blocked task while persistence still uses the caller's
// context.
func (e *Engine) run(ctx context.Context, p *plan, exec *types.Execution) (*types.Execution, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(exec.ID, cancel)
	defer e.untrack(exec.ID)

	st := restoreState(exec)
	if exec.TaskResults == nil {
		exec.TaskResults = map[string]types.TaskResult{}
	}
	if exec.CurrentTaskOrder == "" {
		exec.CurrentTaskOrder = p.first()
	}

	transitions := 0
	gotos := 0
	for {
		cursor := exec.CurrentTaskOrder
		if cursor == "" || cursor == branchEnd {
			return e.finish(ctx, exec, st)
		}
		if e.cancelRequested(exec.ID) {
			return e.finishCancelled(ctx, exec, st)
		}
		if err := runCtx.Err(); err != nil {
			// Shutdown or job timeout: leave the execution running so
			// a restart resumes it at the cursor.
			e.persistDetached(exec)
			return exec, err
		}

		transitions++
		if transitions > e.maxTransitions {
			return e.fail(ctx, exec, nil,
				fmt.Errorf("%w: exceeded %d task transitions", types.ErrLoopBound, e.maxTransitions))
		}
		task, ok := p.byOrder[cursor]
		if !ok {
			return e.fail(ctx, exec, nil, fmt.Errorf("unknown task order %q", cursor))
		}

		started := time.Now()
		outcome, attempts, taskErr := e.attempt(runCtx, p, exec, st, task)
		durationMS := time.Since(started).Milliseconds()

		if taskErr != nil {
			if e.cancelRequested(exec.ID) {
				return e.finishCancelled(ctx, exec, st)
			}
			if runCtx.Err() != nil {
				e.persistDetached(exec)
				return exec, runCtx.Err()
			}
			exec.TaskResults[task.Order] = types.TaskResult{
				TaskID:     task.ID,
				Order:      task.Order,
				Status:     "failed",
				Error:      taskErr.Error(),
				Attempts:   attempts,
				DurationMS: durationMS,
			}
			switch task.OnError {
			case types.OnErrorContinue:
				e.logger.Warn("task failed, continuing",
					zap.String("execution_id", exec.ID),
					zap.String("task_order", task.Order),
					zap.Error(taskErr))
				st.record(task.Order, nil)
				exec.CurrentTaskOrder = p.next(task.Order)
			case types.OnErrorGoto:
				gotos++
				if gotos > maxGotoJumps {
					return e.fail(ctx, exec, &task,
						fmt.Errorf("%w: exceeded %d error jumps", types.ErrLoopBound, maxGotoJumps))
				}
				e.logger.Warn("task failed, jumping",
					zap.String("execution_id", exec.ID),
					zap.String("task_order", task.Order),
					zap.String("goto", task.ErrorGoto),
					zap.Error(taskErr))
				exec.CurrentTaskOrder = task.ErrorGoto
			default:
				return e.fail(ctx, exec, &task, taskErr)
			}
			if err := e.saveStep(ctx, exec, st); err != nil {
				return exec, err
			}
			e.stepEvent(ctx, exec, task, "failed")
			continue
		}

		if outcome.parked {
			exec.Status = types.ExecWaitingApproval
			exec.CurrentTaskOrder = task.Order
			if err := e.saveStep(ctx, exec, st); err != nil {
				return exec, err
			}
			e.logger.Info("execution parked",
				zap.String("execution_id", exec.ID),
				zap.String("task_order", task.Order))
			return exec, nil
		}

		exec.TaskResults[task.Order] = types.TaskResult{
			TaskID:     task.ID,
			Order:      task.Order,
			Status:     "completed",
			Output:     outcome.output,
			Attempts:   attempts,
			DurationMS: durationMS,
		}
		st.record(task.Order, outcome.output)
		exec.TasksCompleted = append(exec.TasksCompleted, task.ID)

		next := outcome.next
		if next == "" {
			next = p.next(task.Order)
		}
		exec.CurrentTaskOrder = next
		if err := e.saveStep(ctx, exec, st); err != nil {
			return exec, err
		}
		e.stepEvent(ctx, exec, task, "completed")
	}
}

// attempt runs one task, retrying under the task's retry policy with
// exponential backoff: 1s, 2s, 4s, capped at 30s.
func (e *Engine) attempt(ctx context.Context, p *plan, exec *types.Execution, st *state, task types.WorkflowTask) (*stepOutcome, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		outcome, err := e.runTask(ctx, p, exec, st, task)
		if err == nil || task.OnError != types.OnErrorRetry || attempt > task.RetryCount {
			return outcome, attempt, err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return outcome, attempt, err
		}
		e.logger.Warn("task failed, retrying",
			zap.String("execution_id", exec.ID),
			zap.String("task_order", task.Order),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if serr := e.sleep(ctx, wait); serr != nil {
			return outcome, attempt, err
		}
	}
}

func (e *Engine) saveStep(ctx context.Context, exec *types.Execution, st *state) error {
	exec.Variables = st.vars
	if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
		return fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, exec *types.Execution, st *state) (*types.Execution, error) {
	now := e.clock()
	exec.Status = types.ExecCompleted
	exec.CurrentTaskOrder = ""
	if st.prevSet {
		exec.Output = st.prev
	}
	exec.CompletedAt = &now
	if err := e.saveStep(ctx, exec, st); err != nil {
		return exec, err
	}
	e.logger.Info("workflow execution completed",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.Int("tasks", len(exec.TaskResults)))
	e.publish(ctx, events.Event{
		Type:     events.TypeWorkflowCompleted,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"workflow_id":  exec.WorkflowID,
			"output":       exec.Output,
		},
	})
	return exec, nil
}

func (e *Engine) fail(ctx context.Context, exec *types.Execution, task *types.WorkflowTask, taskErr error) (*types.Execution, error) {
	now := e.clock()
	exec.Status = types.ExecFailed
	exec.ErrorMessage = taskErr.Error()
	if task != nil {
		exec.ErrorTaskID = task.ID
	}
	exec.CompletedAt = &now
	if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
		return exec, err
	}
	e.logger.Warn("workflow execution failed",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.Error(taskErr))
	e.publish(ctx, events.Event{
		Type:     events.TypeWorkflowFailed,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"workflow_id":  exec.WorkflowID,
			"error":        exec.ErrorMessage,
		},
	})
	return exec, nil
}

func (e *Engine) finishCancelled(ctx context.Context, exec *types.Execution, st *state) (*types.Execution, error) {
	now := e.clock()
	exec.Status = types.ExecCancelled
	exec.CompletedAt = &now
	if err := e.saveStep(ctx, exec, st); err != nil {
		return exec, err
	}
	e.logger.Info("workflow execution cancelled", zap.String("execution_id", exec.ID))
	e.publish(ctx, events.Event{
		Type:     events.TypeNotificationInfo,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"message":      "execution cancelled",
		},
	})
	return exec, nil
}

// persistDetached saves progress when the caller's context is gone so
// a restart can resume from the cursor.
func (e *Engine) persistDetached(exec *types.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
		e.logger.Error("failed to persist execution progress",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
}

// Approve resolves a parked human-approval task. Approval marks the
// gate satisfied and returns the execution ready to resume via
// Execute; rejection cancels it with "Rejected by user".
func (e *Engine) Approve(ctx context.Context, executionID string, approved bool) (*types.Execution, error) {
	exec, err := e.store.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != types.ExecWaitingApproval {
		return nil, fmt.Errorf("execution %s is %w", executionID, ErrNotWaitingApproval)
	}
	wf, err := e.store.Workflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	parked, ok := taskAt(wf, exec.CurrentTaskOrder)
	if !ok || parked.Kind != types.TaskHumanApproval {
		return nil, fmt.Errorf("execution %s is not parked on an approval task: %w", executionID, ErrNotWaitingApproval)
	}

	now := e.clock()
	if !approved {
		exec.Status = types.ExecCancelled
		exec.ErrorMessage = "Rejected by user"
		exec.CompletedAt = &now
		if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
			return nil, err
		}
		e.logger.Info("approval rejected", zap.String("execution_id", exec.ID))
		e.publish(ctx, events.Event{
			Type:     events.TypeNotificationInfo,
			TenantID: exec.TenantID,
			UserID:   exec.UserID,
			Data: map[string]interface{}{
				"execution_id": exec.ID,
				"message":      "approval rejected",
			},
		})
		return exec, nil
	}

	if exec.Variables == nil {
		exec.Variables = map[string]interface{}{}
	}
	exec.Variables[approvalKey(exec.CurrentTaskOrder)] = true
	exec.Status = types.ExecRunning
	if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
		return nil, err
	}
	e.logger.Info("approval granted",
		zap.String("execution_id", exec.ID),
		zap.String("task_order", exec.CurrentTaskOrder))
	return exec, nil
}

// SignalEvent releases executions parked on the named event. The
// released execution ids are returned so the caller can enqueue their
// resumption.
func (e *Engine) SignalEvent(ctx context.Context, tenantID, event string) ([]string, error) {
	key := waiterKey(tenantID, event)
	e.mu.Lock()
	waiting := e.eventWaiters[key]
	delete(e.eventWaiters, key)
	e.mu.Unlock()
	if len(waiting) == 0 {
		return nil, nil
	}

	var resumed []string
	for id := range waiting {
		exec, err := e.store.Execution(ctx, id)
		if err != nil {
			e.logger.Warn("event waiter lookup failed", zap.String("execution_id", id), zap.Error(err))
			continue
		}
		if exec.Status != types.ExecWaitingApproval {
			continue
		}
		if exec.Variables == nil {
			exec.Variables = map[string]interface{}{}
		}
		exec.Variables[eventFiredKey(exec.CurrentTaskOrder)] = event
		exec.Status = types.ExecRunning
		if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
			e.logger.Warn("event waiter release failed", zap.String("execution_id", id), zap.Error(err))
			continue
		}
		resumed = append(resumed, id)
	}
	e.logger.Info("event released waiters",
		zap.String("event", event),
		zap.Int("resumed", len(resumed)))
	return resumed, nil
}

// Cancel stops an execution at its next task boundary. Parked and
// pending executions are cancelled immediately; terminal executions
// are returned unchanged.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*types.Execution, error) {
	e.mu.Lock()
	cancel, inFlight := e.cancels[executionID]
	if inFlight {
		e.cancelFlags[executionID] = true
	}
	for key, waiting := range e.eventWaiters {
		delete(waiting, executionID)
		if len(waiting) == 0 {
			delete(e.eventWaiters, key)
		}
	}
	e.mu.Unlock()

	if inFlight {
		cancel()
		exec, err := e.store.Execution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		return exec, nil
	}

	exec, err := e.store.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}
	now := e.clock()
	exec.Status = types.ExecCancelled
	exec.CompletedAt = &now
	if err := e.store.SaveExecutionStep(ctx, exec); err != nil {
		return nil, err
	}
	e.logger.Info("workflow execution cancelled", zap.String("execution_id", exec.ID))
	return exec, nil
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
	delete(e.cancelFlags, id)
}

func (e *Engine) cancelRequested(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelFlags[id]
}

func (e *Engine) registerWaiter(tenantID, event, executionID string) {
	key := waiterKey(tenantID, event)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eventWaiters[key] == nil {
		e.eventWaiters[key] = map[string]bool{}
	}
	e.eventWaiters[key][executionID] = true
}

func waiterKey(tenantID, event string) string {
	return tenantID + "\x00" + event
}

func taskAt(wf *types.Workflow, order string) (types.WorkflowTask, bool) {
	for _, t := range wf.Tasks {
		if t.Order == order {
			return t, true
		}
	}
	return types.WorkflowTask{}, false
}

func (e *Engine) stepEvent(ctx context.Context, exec *types.Execution, task types.WorkflowTask, status string) {
	e.publish(ctx, events.Event{
		Type:     events.TypeWorkflowStepCompleted,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"task_id":      task.ID,
			"task_order":   task.Order,
			"status":       status,
		},
	})
}

// warnMissing surfaces unresolved references. The step still runs with
// empty strings in their place.
func (e *Engine) warnMissing(ctx context.Context, exec *types.Execution, order string, refs []string) {
	if len(refs) == 0 {
		return
	}
	e.logger.Warn("unresolved references",
		zap.String("execution_id", exec.ID),
		zap.String("task_order", order),
		zap.Strings("refs", refs))
	e.publish(ctx, events.Event{
		Type:     events.TypeNotificationError,
		TenantID: exec.TenantID,
		UserID:   exec.UserID,
		Data: map[string]interface{}{
			"execution_id": exec.ID,
			"task_order":   order,
			"message":      fmt.Sprintf("unresolved references: %s", strings.Join(refs, ", ")),
		},
	})
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	event.Timestamp = e.clock()
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
