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
// Package events delivers workflow and agent notifications to live
// subscribers, scoped by tenant. Delivery is best-effort: no replay,
// no cross-publisher ordering, drops when a subscriber lags.
package events

import (
	"context"
	"time"
)

// Event types published on the bus.
const (
	TypeConnected = "connected"

	TypeWorkflowStarted       = "workflow.started"
	TypeWorkflowStepCompleted = "workflow.step_completed"
	TypeWorkflowCompleted     = "workflow.completed"
	TypeWorkflowFailed        = "workflow.failed"

	TypeAgentResponse   = "agent.response"
	TypeAgentToolCalled = "agent.tool_called"
	TypeAgentThinking   = "agent.thinking"

	TypeChatMessage = "chat.message"

	TypeNotificationInfo    = "notification.info"
	TypeNotificationSuccess = "notification.success"
	TypeNotificationError   = "notification.error"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Subscription is a live attachment to a tenant's event channel.
// Close releases it; the channel is closed afterwards.
type Subscription struct {
	ID       string
	TenantID string
	UserID   string

	// Channel receives envelopes. The first envelope is always a
	// connected event.
	Channel <-chan Event

	closeFn func()
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Bus is the pub/sub surface. Implementations must be safe for
// concurrent use.
type Bus interface {
	// Publish fans the event out to the tenant's current subscribers.
	// Events published with no subscriber attached are dropped.
	Publish(ctx context.Context, event Event) error

	// Subscribe attaches to a tenant's channel. When userID is set,
	// envelopes carrying a different non-empty user id are filtered
	// out.
	Subscribe(ctx context.Context, tenantID, userID string) (*Subscription, error)

	// Close shuts the bus down and closes every subscriber channel.
	Close() error
}

// matchesUser applies the per-subscriber user filter: events without
// a user id broadcast to everyone on the tenant channel.
func matchesUser(subUserID, eventUserID string) bool {
	if subUserID == "" || eventUserID == "" {
		return true
	}
	return subUserID == eventUserID
}

// connectedEvent builds the envelope emitted on attach.
func connectedEvent(tenantID string, at time.Time) Event {
	return Event{
		Type:     TypeConnected,
		TenantID: tenantID,
		Data: map[string]interface{}{
			"tenant_id": tenantID,
			"timestamp": at.UTC().Format(time.RFC3339),
		},
		Timestamp: at,
	}
}
