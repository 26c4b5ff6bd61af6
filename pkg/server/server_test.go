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
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atelierhq/atelier/pkg/chat"
	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeChatService struct {
	mu   sync.Mutex
	reqs []chat.Request
	resp *chat.Response
	err  error
}

func (f *fakeChatService) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &chat.Response{
		ConversationID: "conv-1",
		AgentID:        "agent-compta",
		Message:        types.Message{Role: "assistant", Content: "Bonjour, je m'en occupe."},
		Model:          "llama-3.3-70b-versatile",
		Provider:       "groq",
		Usage:          types.Usage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
	}, nil
}

func (f *fakeChatService) request(i int) chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

type fakeEngine struct {
	mu         sync.Mutex
	prepared   []workflow.ExecuteRequest
	approvals  []bool
	cancels    []string
	exec       *types.Execution
	prepareErr error
	approveErr error
	cancelErr  error
}

func (f *fakeEngine) PrepareExecution(ctx context.Context, req workflow.ExecuteRequest) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, req)
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	if f.exec != nil {
		return f.exec, nil
	}
	return &types.Execution{
		ID:         "exec-1",
		WorkflowID: req.WorkflowID,
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Status:     types.ExecPending,
		Trigger:    req.Trigger,
		Input:      req.Input,
		StartedAt:  fixedNow,
	}, nil
}

func (f *fakeEngine) Approve(ctx context.Context, executionID string, approved bool) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, approved)
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	if f.exec != nil {
		return f.exec, nil
	}
	status := types.ExecRunning
	if !approved {
		status = types.ExecCancelled
	}
	return &types.Execution{ID: executionID, WorkflowID: "wf-1", TenantID: "tenant-1", Status: status}, nil
}

func (f *fakeEngine) Cancel(ctx context.Context, executionID string) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, executionID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &types.Execution{ID: executionID, WorkflowID: "wf-1", TenantID: "tenant-1", Status: types.ExecCancelled}, nil
}

func (f *fakeEngine) preparedReq(i int) workflow.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared[i]
}

func (f *fakeEngine) approval(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[i]
}

type fakeScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeScheduler) TriggerNow(ctx context.Context, scheduleID string) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, scheduleID)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Execution{
		ID:         "exec-sched",
		WorkflowID: "wf-1",
		TenantID:   "tenant-1",
		Status:     types.ExecPending,
		Trigger:    types.TriggerManual,
	}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	exec      *types.Execution
	execErr   error
	totals    []storage.UsageTotal
	totalsErr error
	tenant    string
	period    string
}

func (f *fakeStore) Execution(ctx context.Context, id string) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.exec, nil
}

func (f *fakeStore) UsageTotals(ctx context.Context, tenantID, period string) ([]storage.UsageTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenant = tenantID
	f.period = period
	if f.totalsErr != nil {
		return nil, f.totalsErr
	}
	return f.totals, nil
}

func (f *fakeStore) queried() (tenant, period string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenant, f.period
}

type fakeHealth struct {
	snap map[string]router.ProviderStats
}

func (f *fakeHealth) Snapshot() map[string]router.ProviderStats {
	return f.snap
}

func newTestServer(t *testing.T, cfg Config) string {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	ts := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	decodeJSON(t, resp, &body)
	return body["detail"]
}

func TestHealthz(t *testing.T) {
	base := newTestServer(t, Config{})

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestChat(t *testing.T) {
	chatSvc := &fakeChatService{}
	base := newTestServer(t, Config{Chat: chatSvc})

	resp := postJSON(t, base+"/chat", map[string]interface{}{
		"tenant_id": "tenant-1",
		"user_id":   "user-2",
		"message":   "Relance la facture F-2026-118",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ConversationID string        `json:"conversation_id"`
		Message        types.Message `json:"message"`
		Model          string        `json:"model"`
		Provider       string        `json:"provider"`
		Timestamp      string        `json:"timestamp"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "conv-1", body.ConversationID)
	assert.Equal(t, "assistant", body.Message.Role)
	assert.Equal(t, "llama-3.3-70b-versatile", body.Model)
	assert.Equal(t, "groq", body.Provider)
	assert.Equal(t, fixedNow.Format(time.RFC3339), body.Timestamp)

	req := chatSvc.request(0)
	assert.Equal(t, "tenant-1", req.TenantID)
	assert.Equal(t, "user-2", req.UserID)
	assert.Equal(t, "Relance la facture F-2026-118", req.Message)
}

func TestChatTenantHeaderFallback(t *testing.T) {
	chatSvc := &fakeChatService{}
	base := newTestServer(t, Config{Chat: chatSvc})

	payload, err := json.Marshal(map[string]string{"message": "Bonjour"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, base+"/chat", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", "tenant-7")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tenant-7", chatSvc.request(0).TenantID)
}

func TestChatValidation(t *testing.T) {
	base := newTestServer(t, Config{Chat: &fakeChatService{}})

	tests := []struct {
		name   string
		body   interface{}
		detail string
	}{
		{
			name:   "missing tenant",
			body:   map[string]string{"message": "Bonjour"},
			detail: "tenant_id is required",
		},
		{
			name:   "missing message",
			body:   map[string]string{"tenant_id": "tenant-1"},
			detail: "message is required",
		},
		{
			name:   "blank message",
			body:   map[string]string{"tenant_id": "tenant-1", "message": "   "},
			detail: "message is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, base+"/chat", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.detail, errorDetail(t, resp))
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(base+"/chat", "application/json", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid request body", errorDetail(t, resp))
	})
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{
			name:   "quota exceeded",
			err:    &types.QuotaExceededError{Remaining: 200, Limit: 100000, ResetAt: fixedNow},
			status: http.StatusTooManyRequests,
		},
		{
			name:   "provider down",
			err:    fmt.Errorf("groq: %w", types.ErrUpstream),
			status: http.StatusBadGateway,
		},
		{
			name:   "unknown conversation",
			err:    fmt.Errorf("conversation conv-9: %w", storage.ErrNotFound),
			status: http.StatusNotFound,
			detail: "Conversation not found",
		},
		{
			name:   "internal",
			err:    fmt.Errorf("store unavailable"),
			status: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newTestServer(t, Config{Chat: &fakeChatService{err: tt.err}})
			resp := postJSON(t, base+"/chat", map[string]string{
				"tenant_id": "tenant-1",
				"message":   "Bonjour",
			})
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, errorDetail(t, resp))
			}
		})
	}
}

func TestExecuteWorkflow(t *testing.T) {
	engine := &fakeEngine{}
	q := queue.NewMemoryQueue()
	defer func() { _ = q.Close() }()
	base := newTestServer(t, Config{Engine: engine, Queue: q})

	resp := postJSON(t, base+"/workflows/wf-3/execute", map[string]interface{}{
		"tenant_id":  "tenant-1",
		"user_id":    "user-2",
		"input_data": map[string]interface{}{"client": "Dupont SARL"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body types.Execution
	decodeJSON(t, resp, &body)
	assert.Equal(t, "exec-1", body.ID)
	assert.Equal(t, "wf-3", body.WorkflowID)
	assert.Equal(t, types.ExecRunning, body.Status)

	prep := engine.preparedReq(0)
	assert.Equal(t, "tenant-1", prep.TenantID)
	assert.Equal(t, "wf-3", prep.WorkflowID)
	assert.Equal(t, "user-2", prep.UserID)
	assert.Equal(t, types.TriggerManual, prep.Trigger)
	assert.Equal(t, map[string]interface{}{"client": "Dupont SARL"}, prep.Input)

	job, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, queue.TaskExecuteWorkflow, job.Task)
	assert.Equal(t, "exec-1", job.ExecutionID)
	assert.Equal(t, "wf-3", job.WorkflowID)
	assert.Equal(t, "tenant-1", job.TenantID)
	assert.Equal(t, queue.PriorityDefault, job.Priority)
}

func TestExecuteWorkflowErrors(t *testing.T) {
	t.Run("workflow missing", func(t *testing.T) {
		engine := &fakeEngine{prepareErr: fmt.Errorf("workflow wf-9: %w", storage.ErrNotFound)}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/workflows/wf-9/execute", map[string]string{"tenant_id": "tenant-1"})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Workflow not found", errorDetail(t, resp))

		pending, err := q.Len(context.Background(), queue.PriorityDefault)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})

	t.Run("missing input", func(t *testing.T) {
		engine := &fakeEngine{prepareErr: &types.MissingInputError{Field: "client"}}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/workflows/wf-3/execute", map[string]string{"tenant_id": "tenant-1"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "missing required input: client", errorDetail(t, resp))
	})

	t.Run("missing tenant", func(t *testing.T) {
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: &fakeEngine{}, Queue: q})

		resp := postJSON(t, base+"/workflows/wf-3/execute", map[string]string{})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "tenant_id is required", errorDetail(t, resp))
	})
}

func TestExecutionByID(t *testing.T) {
	store := &fakeStore{exec: &types.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		TenantID:   "tenant-1",
		Status:     types.ExecCompleted,
	}}
	base := newTestServer(t, Config{Store: store})

	t.Run("found", func(t *testing.T) {
		resp, err := http.Get(base + "/executions/exec-1")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body types.Execution
		decodeJSON(t, resp, &body)
		assert.Equal(t, "exec-1", body.ID)
		assert.Equal(t, types.ExecCompleted, body.Status)
	})

	t.Run("foreign tenant reads as missing", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/executions/exec-1", nil)
		require.NoError(t, err)
		req.Header.Set("X-Tenant-ID", "tenant-2")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Execution not found", errorDetail(t, resp))
	})

	t.Run("missing", func(t *testing.T) {
		missing := &fakeStore{execErr: storage.ErrNotFound}
		base := newTestServer(t, Config{Store: missing})

		resp, err := http.Get(base + "/executions/exec-404")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Execution not found", errorDetail(t, resp))
	})
}

func TestApprove(t *testing.T) {
	t.Run("granted resumes through the queue", func(t *testing.T) {
		engine := &fakeEngine{}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/executions/exec-5/approve", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		decodeJSON(t, resp, &body)
		assert.Equal(t, "Approval processed", body["message"])
		assert.Equal(t, "running", body["status"])
		assert.True(t, engine.approval(0))

		job, err := q.Dequeue(context.Background(), 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, queue.TaskExecuteWorkflow, job.Task)
		assert.Equal(t, "exec-5", job.ExecutionID)
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		engine := &fakeEngine{}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/executions/exec-5/approve?approved=false", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		decodeJSON(t, resp, &body)
		assert.Equal(t, "cancelled", body["status"])
		assert.False(t, engine.approval(0))

		pending, err := q.Len(context.Background(), queue.PriorityDefault)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})

	t.Run("bogus approved value", func(t *testing.T) {
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: &fakeEngine{}, Queue: q})

		resp := postJSON(t, base+"/executions/exec-5/approve?approved=oui", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "approved must be a boolean", errorDetail(t, resp))
	})

	t.Run("not waiting", func(t *testing.T) {
		engine := &fakeEngine{
			approveErr: fmt.Errorf("execution exec-5 is %w", workflow.ErrNotWaitingApproval),
		}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/executions/exec-5/approve", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, errorDetail(t, resp), "not waiting for approval")
	})

	t.Run("missing execution", func(t *testing.T) {
		engine := &fakeEngine{approveErr: storage.ErrNotFound}
		q := queue.NewMemoryQueue()
		defer func() { _ = q.Close() }()
		base := newTestServer(t, Config{Engine: engine, Queue: q})

		resp := postJSON(t, base+"/executions/exec-404/approve", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Execution not found", errorDetail(t, resp))
	})
}

func TestCancel(t *testing.T) {
	engine := &fakeEngine{}
	base := newTestServer(t, Config{Engine: engine})

	resp := postJSON(t, base+"/executions/exec-5/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "Execution cancelled", body["message"])
	assert.Equal(t, "cancelled", body["status"])

	t.Run("missing", func(t *testing.T) {
		base := newTestServer(t, Config{Engine: &fakeEngine{cancelErr: storage.ErrNotFound}})
		resp := postJSON(t, base+"/executions/exec-404/cancel", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Execution not found", errorDetail(t, resp))
	})
}

func TestTriggerSchedule(t *testing.T) {
	sched := &fakeScheduler{}
	base := newTestServer(t, Config{Scheduler: sched})

	resp := postJSON(t, base+"/schedules/sched-1/trigger", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body types.Execution
	decodeJSON(t, resp, &body)
	assert.Equal(t, "exec-sched", body.ID)
	assert.Equal(t, types.ExecRunning, body.Status)

	t.Run("missing", func(t *testing.T) {
		missing := &fakeScheduler{err: fmt.Errorf("scheduled job sched-9: %w", storage.ErrNotFound)}
		base := newTestServer(t, Config{Scheduler: missing})

		resp := postJSON(t, base+"/schedules/sched-9/trigger", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Schedule not found", errorDetail(t, resp))
	})
}

func TestStats(t *testing.T) {
	store := &fakeStore{totals: []storage.UsageTotal{
		{Type: types.UsageLLMTokens, Quantity: 4200, CostUSD: 0.12, Records: 7},
	}}
	health := &fakeHealth{snap: map[string]router.ProviderStats{
		"groq": {Healthy: true, AvgLatencyMS: 240, Samples: 12},
	}}
	base := newTestServer(t, Config{Store: store, Health: health})

	resp, err := http.Get(base + "/stats?tenant_id=tenant-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Period    string                          `json:"period"`
		Providers map[string]router.ProviderStats `json:"providers"`
		Usage     []storage.UsageTotal            `json:"usage"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "2026-03", body.Period)
	assert.True(t, body.Providers["groq"].Healthy)
	require.Len(t, body.Usage, 1)
	assert.Equal(t, int64(4200), body.Usage[0].Quantity)

	tenant, period := store.queried()
	assert.Equal(t, "tenant-1", tenant)
	assert.Equal(t, "2026-03", period)

	t.Run("explicit period", func(t *testing.T) {
		resp, err := http.Get(base + "/stats?tenant_id=tenant-1&period=2026-01")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		_, period := store.queried()
		assert.Equal(t, "2026-01", period)
	})

	t.Run("no tenant skips usage", func(t *testing.T) {
		base := newTestServer(t, Config{Store: &fakeStore{totalsErr: fmt.Errorf("must not be called")}, Health: health})

		resp, err := http.Get(base + "/stats")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Usage []storage.UsageTotal `json:"usage"`
		}
		decodeJSON(t, resp, &body)
		assert.Nil(t, body.Usage)
	})
}

func TestCORSPreflight(t *testing.T) {
	base := newTestServer(t, Config{})

	req, err := http.NewRequest(http.MethodOptions, base+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
}

func TestCORSRestrictedOrigin(t *testing.T) {
	cors := DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://app.atelier.dev"}
	base := newTestServer(t, Config{CORS: &cors})

	req, err := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://app.atelier.dev")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, "https://app.atelier.dev", resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMissingCollaborators(t *testing.T) {
	base := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "chat", method: http.MethodPost, path: "/chat"},
		{name: "execute", method: http.MethodPost, path: "/workflows/wf-1/execute"},
		{name: "approve", method: http.MethodPost, path: "/executions/exec-1/approve"},
		{name: "cancel", method: http.MethodPost, path: "/executions/exec-1/cancel"},
		{name: "trigger", method: http.MethodPost, path: "/schedules/sched-1/trigger"},
		{name: "execution", method: http.MethodGet, path: "/executions/exec-1"},
		{name: "events", method: http.MethodGet, path: "/events?tenant_id=tenant-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, base+tt.path, bytes.NewReader([]byte("{}")))
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}
}
