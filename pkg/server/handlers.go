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
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/chat"
	"github.com/atelierhq/atelier/pkg/queue"
	"github.com/atelierhq/atelier/pkg/router"
	"github.com/atelierhq/atelier/pkg/storage"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// tenantHeader carries the caller's tenant identity when the body does
// not. Authentication itself is owned by the gateway in front of the
// core.
const tenantHeader = "X-Tenant-ID"

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// chatReply is a chat.Response stamped with the server clock.
type chatReply struct {
	*chat.Response
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat service not configured")
		return
	}

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = r.Header.Get(tenantHeader)
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.respondError(w, err, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, chatReply{
		Response:  resp,
		Timestamp: s.clock().UTC().Format(time.RFC3339),
	})
}

type executeWorkflowRequest struct {
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
	InputData map[string]interface{} `json:"input_data,omitempty"`
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return
	}
	if s.queue == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}

	var req executeWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = r.Header.Get(tenantHeader)
	}
	if req.TenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	exec, err := s.engine.PrepareExecution(r.Context(), workflow.ExecuteRequest{
		TenantID:   req.TenantID,
		WorkflowID: r.PathValue("id"),
		UserID:     req.UserID,
		Trigger:    types.TriggerManual,
		Input:      req.InputData,
	})
	if err != nil {
		s.respondError(w, err, "Workflow not found")
		return
	}

	// The record carries the validated input, so the job needs only ids.
	if err := s.queue.Enqueue(r.Context(), &queue.Job{
		Task:        queue.TaskExecuteWorkflow,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		TenantID:    exec.TenantID,
		UserID:      exec.UserID,
	}); err != nil {
		s.logger.Error("Execution enqueue failed",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue execution")
		return
	}

	s.writeJSON(w, http.StatusAccepted, handoffAck(exec))
}

// handoffAck reports the execution as running. The stored record stays
// pending until a worker claims the job.
func handoffAck(exec *types.Execution) *types.Execution {
	ack := *exec
	ack.Status = types.ExecRunning
	return &ack
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}

	exec, err := s.store.Execution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "Execution not found")
		return
	}
	// A foreign tenant's execution reads as missing.
	if tenant := r.Header.Get(tenantHeader); tenant != "" && tenant != exec.TenantID {
		s.writeError(w, http.StatusNotFound, "Execution not found")
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return
	}

	approved := true
	if v := r.URL.Query().Get("approved"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "approved must be a boolean")
			return
		}
		approved = parsed
	}

	exec, err := s.engine.Approve(r.Context(), r.PathValue("id"), approved)
	if err != nil {
		s.respondError(w, err, "Execution not found")
		return
	}

	// Granting resumes through the worker pool, same path as a fresh
	// execution. Rejection is already terminal.
	if approved {
		if s.queue == nil {
			s.writeError(w, http.StatusServiceUnavailable, "job queue not configured")
			return
		}
		if err := s.queue.Enqueue(r.Context(), &queue.Job{
			Task:        queue.TaskExecuteWorkflow,
			ExecutionID: exec.ID,
			WorkflowID:  exec.WorkflowID,
			TenantID:    exec.TenantID,
			UserID:      exec.UserID,
		}); err != nil {
			s.logger.Error("Resumption enqueue failed",
				zap.String("execution_id", exec.ID),
				zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to enqueue resumption")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Approval processed",
		"status":  exec.Status,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "workflow engine not configured")
		return
	}

	exec, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "Execution not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Execution cancelled",
		"status":  exec.Status,
	})
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	exec, err := s.scheduler.TriggerNow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "Schedule not found")
		return
	}
	s.writeJSON(w, http.StatusAccepted, handoffAck(exec))
}

type statsResponse struct {
	Period    string                          `json:"period"`
	Providers map[string]router.ProviderStats `json:"providers,omitempty"`
	Usage     []storage.UsageTotal            `json:"usage,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = s.clock().UTC().Format("2006-01")
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = r.Header.Get(tenantHeader)
	}

	resp := statsResponse{Period: period}
	if s.health != nil {
		resp.Providers = s.health.Snapshot()
	}
	if s.store != nil && tenantID != "" {
		totals, err := s.store.UsageTotals(r.Context(), tenantID, period)
		if err != nil {
			s.logger.Error("Usage aggregation failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to aggregate usage")
			return
		}
		resp.Usage = totals
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// respondError maps err onto the wire. Not-found conditions, tenancy
// mismatches included, answer with the route's fixed detail so nothing
// internal leaks; other statuses echo the error.
func (s *Server) respondError(w http.ResponseWriter, err error, notFoundDetail string) {
	code := httpStatus(err)
	if code == http.StatusNotFound {
		s.writeError(w, code, notFoundDetail)
		return
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeError(w, code, err.Error())
}
