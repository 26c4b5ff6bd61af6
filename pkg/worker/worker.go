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

// Package worker consumes queued jobs. A pool of goroutines polls the
// queue, highest priority first, and dispatches each job to the
// engine, the chat service, or the scheduled-email pipeline. The
// queue delivers at least once, so handlers stay idempotent on the
// execution id; a handler failure is logged and the job is consumed
// rather than redelivered forever.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/chat"
	"github.com/atelierhq/atelier/pkg/prompts"
	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

const (
	defaultMaxJobs         = 10
	defaultJobTimeout      = 5 * time.Minute
	defaultPollTimeout     = 2 * time.Second
	defaultCleanupInterval = 24 * time.Hour
	defaultRetention       = 30 * 24 * time.Hour
)

// Engine runs prepared workflow executions.
type Engine interface {
	Execute(ctx context.Context, req workflow.ExecuteRequest) (*types.Execution, error)
}

// Chatter handles one conversational turn for agent task jobs.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ToolRunner invokes a stored tool with its tenant config applied.
type ToolRunner interface {
	Run(ctx context.Context, tenantID, toolID string, params map[string]interface{}) (interface{}, error)
}

// TemplateSource resolves prompt templates for scheduled emails.
type TemplateSource interface {
	Lookup(ctx context.Context, tenantID, id string) (*types.PromptTemplate, error)
}

// Completer generates text through the model router.
type Completer interface {
	Complete(ctx context.Context, req router.RouteRequest) (*types.Completion, error)
}

// CleanupStore deletes finished executions past the retention window.
type CleanupStore interface {
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config assembles a Worker. Queue is required; the remaining
// collaborators are optional and jobs that need an absent one fail
// with a descriptive error.
type Config struct {
	Queue queue.Queue

	Engine  Engine
	Chat    Chatter
	Prompts TemplateSource
	Router  Completer
	Tools   ToolRunner
	Store   CleanupStore

	Logger *zap.Logger
	Clock  func() time.Time

	// MaxJobs is the number of concurrent consumers. Zero means 10.
	MaxJobs int

	// JobTimeout bounds a single job. Zero means 5 minutes.
	JobTimeout time.Duration

	// PollTimeout is how long one queue poll blocks. Zero means 2
	// seconds.
	PollTimeout time.Duration

	// CleanupInterval is the retention sweep cadence. Zero means
	// daily. The sweep only runs when Store is set.
	CleanupInterval time.Duration

	// Retention is how long finished executions are kept before the
	// sweep deletes them. Zero means 30 days.
	Retention time.Duration
}

// Worker is a pool of queue consumers plus a retention sweeper.
type Worker struct {
	queue   queue.Queue
	engine  Engine
	chat    Chatter
	prompts TemplateSource
	router  Completer
	tools   ToolRunner
	store   CleanupStore

	logger *zap.Logger
	clock  func() time.Time

	maxJobs         int
	jobTimeout      time.Duration
	pollTimeout     time.Duration
	cleanupInterval time.Duration
	retention       time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Worker from cfg.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("worker: Queue is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = defaultMaxJobs
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Worker{
		queue:           cfg.Queue,
		engine:          cfg.Engine,
		chat:            cfg.Chat,
		prompts:         cfg.Prompts,
		router:          cfg.Router,
		tools:           cfg.Tools,
		store:           cfg.Store,
		logger:          logger,
		clock:           clock,
		maxJobs:         maxJobs,
		jobTimeout:      jobTimeout,
		pollTimeout:     pollTimeout,
		cleanupInterval: cleanupInterval,
		retention:       retention,
		stopCh:          make(chan struct{}),
	}, nil
}

// Start launches the consumer pool and, when a store is configured,
// the retention sweeper. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.maxJobs; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}
	if w.store != nil {
		w.wg.Add(1)
		go w.sweep(ctx)
	}
	w.logger.Info("Worker started",
		zap.Int("max_jobs", w.maxJobs),
		zap.Duration("job_timeout", w.jobTimeout))
}

// Stop halts polling and waits for in-flight jobs to finish. Safe to
// call more than once. Cancelling the Start context instead aborts
// in-flight jobs.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Queue poll failed", zap.Error(err))
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job)
	}
}

// handle runs one job under the job timeout. Handler errors are
// logged, not returned: the job is consumed either way, and a poison
// job must not wedge the pool.
func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	jctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch job.Task {
	case queue.TaskExecuteWorkflow:
		err = w.runWorkflow(jctx, job)
	case queue.TaskExecuteAgentTask:
		err = w.runAgentTask(jctx, job)
	case queue.TaskSendScheduledEmail:
		err = w.sendScheduledEmail(jctx, job)
	default:
		err = fmt.Errorf("unknown job task %q", job.Task)
	}
	if err != nil {
		w.logger.Error("Job failed",
			zap.String("job_id", job.ID),
			zap.String("task", job.Task),
			zap.String("tenant_id", job.TenantID),
			zap.Error(err))
		return
	}
	w.logger.Debug("Job done",
		zap.String("job_id", job.ID),
		zap.String("task", job.Task),
		zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) runWorkflow(ctx context.Context, job *queue.Job) error {
	if w.engine == nil {
		return fmt.Errorf("no workflow engine configured")
	}
	exec, err := w.engine.Execute(ctx, workflow.ExecuteRequest{
		TenantID:    job.TenantID,
		WorkflowID:  job.WorkflowID,
		ExecutionID: job.ExecutionID,
		UserID:      job.UserID,
		Input:       job.Input,
	})
	if err != nil {
		return err
	}
	// A failed execution is a finished job: the record carries the
	// error and redelivery would not change the outcome.
	if exec.Status == types.ExecFailed {
		w.logger.Warn("Workflow execution failed",
			zap.String("execution_id", exec.ID),
			zap.String("workflow_id", exec.WorkflowID),
			zap.String("error", exec.ErrorMessage))
		return nil
	}
	w.logger.Info("Workflow execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("status", string(exec.Status)))
	return nil
}

func (w *Worker) runAgentTask(ctx context.Context, job *queue.Job) error {
	if w.chat == nil {
		return fmt.Errorf("no chat service configured")
	}
	message := stringInput(job.Input, "message")
	if message == "" {
		return fmt.Errorf("agent task job has no message")
	}
	resp, err := w.chat.Chat(ctx, chat.Request{
		TenantID:       job.TenantID,
		UserID:         job.UserID,
		ConversationID: stringInput(job.Input, "conversation_id"),
		AgentID:        stringInput(job.Input, "agent_id"),
		Message:        message,
	})
	if err != nil {
		return err
	}
	w.logger.Info("Agent task finished",
		zap.String("conversation_id", resp.ConversationID),
		zap.String("agent_id", resp.AgentID))
	return nil
}

// emailInstruction wraps the rendered template when asking the model
// to draft a scheduled email.
const emailInstruction = "Génère un email professionnel basé sur: "

func (w *Worker) sendScheduledEmail(ctx context.Context, job *queue.Job) error {
	if w.prompts == nil {
		return fmt.Errorf("no prompt source configured")
	}
	if w.router == nil {
		return fmt.Errorf("no model router configured")
	}
	if w.tools == nil {
		return fmt.Errorf("no tool runner configured")
	}

	templateID := stringInput(job.Input, "template_id")
	if templateID == "" {
		return fmt.Errorf("scheduled email job has no template_id")
	}

	tpl, err := w.prompts.Lookup(ctx, job.TenantID, templateID)
	if err != nil {
		return fmt.Errorf("load template %s: %w", templateID, err)
	}

	vars, _ := job.Input["variables"].(map[string]interface{})
	rendered := prompts.Interpolate(tpl.Body, vars)

	completion, err := w.router.Complete(ctx, router.RouteRequest{
		TenantID: job.TenantID,
		UserID:   job.UserID,
		Task:     types.TaskEmail,
		Messages: []types.Message{{Role: "user", Content: emailInstruction + rendered}},
	})
	if err != nil {
		return fmt.Errorf("generate email: %w", err)
	}

	subject, body := splitEmail(completion.Content)
	if subject == "" {
		subject = "Email automatique"
	}

	// A template bound to a tool is a business action; otherwise the
	// job may name a tool, and the shared email tool is the fallback.
	toolID := tpl.ToolID
	if toolID == "" {
		toolID = stringInput(job.Input, "tool_id")
	}
	if toolID == "" {
		toolID = "email"
	}

	if _, err := w.tools.Run(ctx, job.TenantID, toolID, map[string]interface{}{
		"to":      job.Input["recipients"],
		"subject": subject,
		"body":    body,
	}); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	w.logger.Info("Scheduled email sent",
		zap.String("template_id", templateID),
		zap.String("tool_id", toolID),
		zap.String("subject", subject))
	return nil
}

// subjectMarkers strips the label off a generated subject line.
var subjectMarkers = strings.NewReplacer("Objet:", "", "Subject:", "")

// splitEmail takes the model's reply apart: the first line, minus its
// "Objet:"/"Subject:" label, is the subject and everything after it
// is the body. A single-line reply keeps the whole text as the body
// so nothing the model wrote is lost.
func splitEmail(content string) (subject, body string) {
	trimmed := strings.TrimSpace(content)
	first, rest, found := strings.Cut(trimmed, "\n")
	subject = strings.TrimSpace(subjectMarkers.Replace(first))
	if !found {
		return subject, content
	}
	return subject, strings.TrimSpace(rest)
}

// sweep deletes finished executions older than the retention window,
// once at startup and then on the cleanup interval.
func (w *Worker) sweep(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	w.cleanup(ctx)
	for {
		select {
		case <-ticker.C:
			w.cleanup(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	cutoff := w.clock().Add(-w.retention)
	deleted, err := w.store.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("Execution cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("Execution cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}

func stringInput(input map[string]interface{}, key string) string {
	s, _ := input[key].(string)
	return s
}
