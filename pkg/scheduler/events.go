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
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// Business event triggers workflows can bind to.
const (
	EventNewLead          = "new_lead"
	EventEmailReceived    = "email_received"
	EventInvoiceOverdue   = "invoice_overdue"
	EventDealClosed       = "deal_closed"
	EventMeetingScheduled = "meeting_scheduled"
)

// knownTriggers gates FireEvent so a typo surfaces at the API
// boundary instead of silently matching nothing.
var knownTriggers = map[string]bool{
	EventNewLead:          true,
	EventEmailReceived:    true,
	EventInvoiceOverdue:   true,
	EventDealClosed:       true,
	EventMeetingScheduled: true,
}

// FireResult reports what one business event set in motion.
type FireResult struct {
	// Started lists executions prepared and queued for workflows
	// bound to the trigger.
	Started []string `json:"started,omitempty"`

	// Resumed lists parked executions the event released.
	Resumed []string `json:"resumed,omitempty"`
}

// FireEvent starts every active workflow the tenant has bound to the
// trigger and wakes executions parked on a matching event wait. The
// payload becomes the input of each started run. Both started and
// resumed executions go through the queue; the caller gets ids, not
// results.
func (s *Scheduler) FireEvent(ctx context.Context, tenantID, trigger string, payload map[string]interface{}) (*FireResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: event requires tenant_id", types.ErrConfig)
	}
	if !knownTriggers[trigger] {
		return nil, fmt.Errorf("%w: unknown event trigger %q", types.ErrConfig, trigger)
	}

	bound, err := s.store.ListActiveEventWorkflows(ctx, trigger)
	if err != nil {
		return nil, err
	}

	result := &FireResult{}
	for _, wf := range bound {
		if wf.TenantID != tenantID {
			continue
		}
		executionID := uuid.NewString()
		if _, err := s.engine.PrepareExecution(ctx, workflow.ExecuteRequest{
			TenantID:    tenantID,
			WorkflowID:  wf.ID,
			ExecutionID: executionID,
			Trigger:     types.TriggerEvent,
			Input:       payload,
		}); err != nil {
			s.logger.Error("Failed to prepare event execution",
				zap.String("workflow_id", wf.ID),
				zap.String("trigger", trigger),
				zap.Error(err))
			continue
		}
		if err := s.enqueueExecution(ctx, executionID, wf.ID, tenantID, payload); err != nil {
			s.logger.Error("Failed to enqueue event execution",
				zap.String("execution_id", executionID),
				zap.Error(err))
			continue
		}
		result.Started = append(result.Started, executionID)
	}

	resumed, err := s.engine.SignalEvent(ctx, tenantID, trigger)
	if err != nil {
		return result, err
	}
	result.Resumed = resumed
	for _, id := range resumed {
		if err := s.enqueueExecution(ctx, id, "", tenantID, nil); err != nil {
			s.logger.Error("Failed to enqueue resumed execution",
				zap.String("execution_id", id),
				zap.Error(err))
		}
	}

	if len(result.Started) > 0 || len(result.Resumed) > 0 {
		s.logger.Info("Fired event trigger",
			zap.String("trigger", trigger),
			zap.String("tenant_id", tenantID),
			zap.Int("started", len(result.Started)),
			zap.Int("resumed", len(result.Resumed)))
	}
	return result, nil
}
