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
// Package types defines shared types used across the platform.
package types

import (
	"time"
)

// Message represents a single turn in a conversation.
type Message struct {
	// Role is one of: system, user, assistant, tool
	Role string `json:"role"`

	// Content is the text content of the message
	Content string `json:"content"`

	// ToolCalls holds assistant-requested tool invocations (assistant role only)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation request from the LLM,
// normalized to the OpenAI-style shape regardless of backend.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDef declares a tool to the provider in OpenAI function style.
// Adapters translate this to each backend's native schema.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage holds token accounting extracted from a provider response.
// All zero when the upstream response carries no usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the normalized result of one LLM call.
type Completion struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	Usage        Usage      `json:"usage"`
	FinishReason string     `json:"finish_reason"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	LatencyMS    int64      `json:"latency_ms"`
}

// ModelCaps describes what a model supports.
type ModelCaps struct {
	Streaming bool `json:"streaming"`
	Tools     bool `json:"tools"`
	Vision    bool `json:"vision"`
}

// Tier is a tenant's LLM access tier. Higher tiers include every
// model available to lower tiers.
type Tier string

// Tenant LLM tiers, lowest to highest.
const (
	TierFree         Tier = "free"
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// tierLevels orders tiers for inclusion checks.
var tierLevels = map[Tier]int{
	TierFree:         0,
	TierStandard:     1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

// Level returns the tier's rank (free=0 … enterprise=3).
// Unknown tiers rank as free.
func (t Tier) Level() int {
	return tierLevels[t]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierLevels[t]
	return ok
}

// Includes reports whether tier t grants access to models of tier other.
func (t Tier) Includes(other Tier) bool {
	return t.Level() >= other.Level()
}

// UsageMode controls which API keys back a tenant's LLM calls.
type UsageMode string

// Tenant key usage modes.
const (
	// ModePlatform uses platform keys only; the monthly token budget applies.
	ModePlatform UsageMode = "platform"
	// ModeBYOK uses tenant-supplied keys only; no platform budget.
	ModeBYOK UsageMode = "byok"
	// ModeHybrid prefers tenant keys, platform keys backfill missing providers.
	ModeHybrid UsageMode = "hybrid"
)

// TaskType classifies a request for model selection.
type TaskType string

// Task types recognized by the router.
const (
	TaskChat      TaskType = "chat"
	TaskCode      TaskType = "code"
	TaskQuick     TaskType = "quick"
	TaskSummarize TaskType = "summarize"
	TaskAnalyze   TaskType = "analyze"
	TaskWriting   TaskType = "writing"
	TaskEmail     TaskType = "email"
	TaskPlanning  TaskType = "planning"
	TaskDecision  TaskType = "decision"
	TaskExtract   TaskType = "extract"
	TaskTranslate TaskType = "translate"
	TaskClassify  TaskType = "classify"
)

// ToolStatus gates whether a tool may be invoked.
type ToolStatus string

// Tool lifecycle statuses. Only active tools may be invoked.
const (
	ToolActive     ToolStatus = "active"
	ToolBeta       ToolStatus = "beta"
	ToolComingSoon ToolStatus = "coming_soon"
	ToolDisabled   ToolStatus = "disabled"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

// Workflow execution statuses. Terminal statuses never change.
const (
	ExecPending         ExecutionStatus = "pending"
	ExecRunning         ExecutionStatus = "running"
	ExecWaitingApproval ExecutionStatus = "waiting_approval"
	ExecCompleted       ExecutionStatus = "completed"
	ExecFailed          ExecutionStatus = "failed"
	ExecCancelled       ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled:
		return true
	}
	return false
}

// BillingPeriod formats t as the "YYYY-MM" period usage records carry.
func BillingPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NextMonthStart returns the first instant of the month after t, in UTC.
// Used to advance a tenant's token-limit reset point.
func NextMonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
