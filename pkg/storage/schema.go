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
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// columnTypes holds the per-dialect type names the shared DDL needs.
// Timestamps are BIGINT unix seconds everywhere, with 0 meaning unset.
type columnTypes struct {
	boolT  string
	blobT  string
	floatT string
}

func (d dialect) types() columnTypes {
	switch d {
	case dialectPostgres:
		return columnTypes{boolT: "BOOLEAN", blobT: "BYTEA", floatT: "DOUBLE PRECISION"}
	case dialectMySQL:
		return columnTypes{boolT: "BOOLEAN", blobT: "LONGBLOB", floatT: "DOUBLE"}
	default:
		return columnTypes{boolT: "INTEGER", blobT: "BLOB", floatT: "REAL"}
	}
}

// tableDDL returns the CREATE TABLE statements in dependency order.
func (d dialect) tableDDL() []string {
	t := d.types()
	return []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id VARCHAR(64) PRIMARY KEY,
			name TEXT NOT NULL,
			plan VARCHAR(32) NOT NULL,
			subscription_status VARCHAR(32) NOT NULL,
			trial_ends_at BIGINT NOT NULL DEFAULT 0,
			tier VARCHAR(32) NOT NULL,
			monthly_token_limit BIGINT NOT NULL DEFAULT 0,
			tokens_used_this_month BIGINT NOT NULL DEFAULT 0,
			limit_reset_at BIGINT NOT NULL DEFAULT 0,
			max_users INTEGER NOT NULL DEFAULT 0,
			max_agents INTEGER NOT NULL DEFAULT 0,
			max_workflows INTEGER NOT NULL DEFAULT 0,
			max_executions_per_month INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tenant_llm_configs (
			tenant_id VARCHAR(64) PRIMARY KEY,
			mode VARCHAR(16) NOT NULL,
			api_keys_json TEXT,
			allowed_models_json TEXT,
			blocked_models_json TEXT,
			preferred_provider VARCHAR(64),
			preferred_model VARCHAR(128),
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			scope VARCHAR(32) NOT NULL,
			description TEXT,
			icon TEXT,
			system_prompt TEXT NOT NULL,
			functional_area VARCHAR(64),
			tool_ids_json TEXT,
			prompt_ids_json TEXT,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS prompt_templates (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			body TEXT NOT NULL,
			variables_json TEXT,
			tool_id VARCHAR(64),
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tools (
			id VARCHAR(64) PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			required_config_json TEXT,
			config_json TEXT
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			trigger_kind VARCHAR(16) NOT NULL,
			trigger_config_json TEXT,
			inputs_json TEXT,
			active %s NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, t.boolT),

		`CREATE TABLE IF NOT EXISTS workflow_tasks (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			task_index INTEGER NOT NULL,
			task_order VARCHAR(32) NOT NULL,
			name TEXT,
			kind VARCHAR(32) NOT NULL,
			config_json TEXT,
			on_error VARCHAR(16),
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_goto VARCHAR(32)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			tenant_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64),
			status VARCHAR(32) NOT NULL,
			trigger_kind VARCHAR(16),
			input_json TEXT,
			variables_json TEXT,
			current_task_order VARCHAR(32),
			tasks_completed_json TEXT,
			task_results %s,
			task_results_compressed %s NOT NULL,
			output_json TEXT,
			error_message TEXT,
			error_task_id VARCHAR(64),
			started_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0
		)`, t.blobT, t.boolT),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			tenant_id VARCHAR(64) NOT NULL,
			cron_expr VARCHAR(64) NOT NULL,
			timezone VARCHAR(64) NOT NULL,
			next_run BIGINT NOT NULL DEFAULT 0,
			last_run BIGINT NOT NULL DEFAULT 0,
			last_execution_id VARCHAR(64),
			active %s NOT NULL
		)`, t.boolT),

		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id VARCHAR(64) PRIMARY KEY,
			conversation_id VARCHAR(64) NOT NULL,
			seq INTEGER NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT,
			tool_calls_json TEXT,
			tool_call_id VARCHAR(64),
			created_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS usage_records (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64),
			usage_type VARCHAR(32) NOT NULL,
			quantity BIGINT NOT NULL,
			resource_id VARCHAR(128),
			resource_type VARCHAR(32),
			cost_usd %s NOT NULL DEFAULT 0,
			period VARCHAR(7) NOT NULL,
			created_at BIGINT NOT NULL
		)`, t.floatT),
	}
}

// indexDDL returns the CREATE INDEX statements. MySQL has no
// IF NOT EXISTS for indexes; initSchema skips its duplicate errors.
func (d dialect) indexDDL() []string {
	ifNotExists := "IF NOT EXISTS "
	if d == dialectMySQL {
		ifNotExists = ""
	}
	indexes := []struct {
		name    string
		table   string
		columns string
	}{
		{"idx_agents_tenant", "agents", "tenant_id"},
		{"idx_prompts_tenant", "prompt_templates", "tenant_id"},
		{"idx_workflows_tenant", "workflows", "tenant_id"},
		{"idx_workflow_tasks_workflow", "workflow_tasks", "workflow_id"},
		{"idx_executions_workflow", "executions", "workflow_id"},
		{"idx_executions_tenant_started", "executions", "tenant_id, started_at"},
		{"idx_executions_status", "executions", "status"},
		{"idx_scheduled_jobs_next_run", "scheduled_jobs", "next_run"},
		{"idx_conversations_tenant_user", "conversations", "tenant_id, user_id"},
		{"idx_messages_conversation", "conversation_messages", "conversation_id, seq"},
		{"idx_usage_tenant_period", "usage_records", "tenant_id, period"},
	}

	stmts := make([]string, 0, len(indexes))
	for _, ix := range indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX %s%s ON %s(%s)", ifNotExists, ix.name, ix.table, ix.columns))
	}
	return stmts
}

// initSchema creates all tables and indexes if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.tableDDL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, stmt := range s.dialect.indexDDL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// isDuplicateIndex matches MySQL error 1061 (duplicate key name) so a
// re-run of initSchema stays idempotent there.
func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}
