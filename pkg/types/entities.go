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
package types

import "time"

// Tenant is the billing and isolation root. All other entities hang
// off a tenant and are never shared across tenants.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Plan               string    `json:"plan"`
	SubscriptionStatus string    `json:"subscription_status"`
	TrialEndsAt        time.Time `json:"trial_ends_at,omitempty"`

	// Tier gates which models the tenant may invoke.
	Tier Tier `json:"tier"`

	// MonthlyTokenLimit is the platform-mode token budget per billing
	// period. Zero means unlimited.
	MonthlyTokenLimit   int64     `json:"monthly_token_limit"`
	TokensUsedThisMonth int64     `json:"tokens_used_this_month"`
	LimitResetAt        time.Time `json:"limit_reset_at"`

	// Quota ceilings for owned entities.
	MaxUsers              int `json:"max_users"`
	MaxAgents             int `json:"max_agents"`
	MaxWorkflows          int `json:"max_workflows"`
	MaxExecutionsPerMonth int `json:"max_executions_per_month"`

	CreatedAt time.Time `json:"created_at"`
}

// Unlimited reports whether the tenant has no monthly token budget.
func (t *Tenant) Unlimited() bool {
	return t.MonthlyTokenLimit <= 0
}

// TenantLLMConfig holds a tenant's key mode and model restrictions.
// One per tenant.
type TenantLLMConfig struct {
	TenantID string    `json:"tenant_id"`
	Mode     UsageMode `json:"mode"`

	// APIKeys maps provider name to an encrypted API key. Keys are
	// stored sealed and only decrypted at call time.
	APIKeys map[string]string `json:"api_keys,omitempty"`

	// AllowedModels, when non-empty, restricts selection to exactly
	// these model identifiers. BlockedModels are always excluded.
	AllowedModels []string `json:"allowed_models,omitempty"`
	BlockedModels []string `json:"blocked_models,omitempty"`

	// PreferredProvider and PreferredModel are soft hints.
	PreferredProvider string `json:"preferred_provider,omitempty"`
	PreferredModel    string `json:"preferred_model,omitempty"`
}

// Agent is a user-authored bundle of system prompt, tools, and prompt
// templates targeting one business role. Read-only during execution.
type Agent struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Name           string    `json:"name"`
	Scope          string    `json:"scope"` // enterprise or business
	Description    string    `json:"description,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	SystemPrompt   string    `json:"system_prompt"`
	FunctionalArea string    `json:"functional_area,omitempty"`
	ToolIDs        []string  `json:"tool_ids,omitempty"`
	PromptIDs      []string  `json:"prompt_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PromptTemplate is a reusable prompt body with {variable}
// placeholders. A template bound to a tool is a business action.
type PromptTemplate struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables,omitempty"`
	ToolID    string    `json:"tool_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolRef describes an external tool integration. Tools with a status
// other than active may be listed but must not be invoked.
type ToolRef struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Category       string            `json:"category"` // email, crm, calendar, seo, ...
	Status         ToolStatus        `json:"status"`
	RequiredConfig []string          `json:"required_config,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
}

// Workflow triggers.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
	TriggerEvent  = "event"
)

// Workflow is a declarative multi-step task graph owned by an agent.
type Workflow struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	AgentID       string                 `json:"agent_id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Trigger       string                 `json:"trigger"` // manual, cron, event
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty"`
	Inputs        []WorkflowInput        `json:"inputs,omitempty"`
	Tasks         []WorkflowTask         `json:"tasks"`
	Active        bool                   `json:"active"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// WorkflowInput declares one field of a workflow's input schema.
type WorkflowInput struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"` // string, number, bool, object, array
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`
}

// TaskKind is the node type of a workflow task.
type TaskKind string

// Workflow task kinds.
const (
	TaskPrompt        TaskKind = "prompt"
	TaskMCPAction     TaskKind = "mcp_action"
	TaskCondition     TaskKind = "condition"
	TaskLoop          TaskKind = "loop"
	TaskWait          TaskKind = "wait"
	TaskParallel      TaskKind = "parallel"
	TaskHumanApproval TaskKind = "human_approval"
	TaskSetVariable   TaskKind = "set_variable"
	TaskHTTPRequest   TaskKind = "http_request"
)

// Error policies applied when a task fails.
const (
	OnErrorStop     = "stop"
	OnErrorContinue = "continue"
	OnErrorRetry    = "retry"
	OnErrorGoto     = "goto"
)

// WorkflowTask is one node of the task graph. Order is a dotted
// decimal key ("2", "2.1") compared as integer tuples.
type WorkflowTask struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Order      string                 `json:"order"`
	Name       string                 `json:"name,omitempty"`
	Kind       TaskKind               `json:"kind"`
	Config     map[string]interface{} `json:"config"`

	// OnError selects the error policy; RetryCount and ErrorGoto
	// parameterize retry and goto respectively.
	OnError    string `json:"on_error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	ErrorGoto  string `json:"error_goto,omitempty"`
}

// TaskResult captures the outcome of one task within an execution.
type TaskResult struct {
	TaskID     string      `json:"task_id"`
	Order      string      `json:"order"`
	Status     string      `json:"status"` // completed, failed, skipped
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}

// Execution is the mutable state of one workflow run. Once the status
// is terminal it never changes.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	TenantID   string          `json:"tenant_id"`
	UserID     string          `json:"user_id,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Trigger    string          `json:"trigger,omitempty"` // manual, schedule, event

	Input            map[string]interface{} `json:"input,omitempty"`
	Variables        map[string]interface{} `json:"variables,omitempty"`
	CurrentTaskOrder string                 `json:"current_task_order,omitempty"`
	TasksCompleted   []string               `json:"tasks_completed,omitempty"`
	TaskResults      map[string]TaskResult  `json:"task_results,omitempty"`
	Output           interface{}            `json:"output,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorTaskID  string `json:"error_task_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScheduledJob binds a workflow to a cron expression and timezone.
// NextRun is strictly in the future after any successful plan.
type ScheduledJob struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	TenantID        string     `json:"tenant_id"`
	CronExpr        string     `json:"cron_expr"`
	Timezone        string     `json:"timezone"`
	NextRun         time.Time  `json:"next_run"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
	Active          bool       `json:"active"`
}

// Conversation is an ordered message history between a user and an
// agent. Only the most recent messages cross the provider boundary.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageType classifies a usage record.
type UsageType string

// Usage record types.
const (
	UsageWorkflowExecution UsageType = "workflow_execution"
	UsageAgentCall         UsageType = "agent_call"
	UsageMCPToolCall       UsageType = "mcp_tool_call"
	UsageLLMTokens         UsageType = "llm_tokens"
)

// UsageRecord is an immutable, append-only accounting entry. Quota
// enforcement reads back only this entity.
type UsageRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id,omitempty"`
	Type         UsageType `json:"type"`
	Quantity     int64     `json:"quantity"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	Period       string    `json:"period"` // "YYYY-MM"
	CreatedAt    time.Time `json:"created_at"`
}
