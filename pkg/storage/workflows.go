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
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/types"
)

// CreateWorkflow persists a workflow and its tasks in one transaction.
// Task IDs are filled in when empty.
func (s *Store) CreateWorkflow(ctx context.Context, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := s.clock()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}

	triggerConfig, err := jsonColumn(wf.TriggerConfig)
	if err != nil {
		return err
	}
	inputs, err := jsonColumn(wf.Inputs)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO workflows (
				id, tenant_id, agent_id, name, description,
				trigger_kind, trigger_config_json, inputs_json, active,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := s.txExec(ctx, tx, query,
			wf.ID,
			wf.TenantID,
			wf.AgentID,
			wf.Name,
			nullString(wf.Description),
			wf.Trigger,
			triggerConfig,
			inputs,
			wf.Active,
			unixOrZero(wf.CreatedAt),
			unixOrZero(wf.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		return s.insertTasks(ctx, tx, wf.ID, wf.Tasks)
	})
}

// Workflow retrieves a workflow with its tasks in stored order.
func (s *Store) Workflow(ctx context.Context, id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, agent_id, name, description,
		       trigger_kind, trigger_config_json, inputs_json, active,
		       created_at, updated_at
		FROM workflows
		WHERE id = ?
	`
	wf, err := scanWorkflow(s.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}
	tasks, err := s.loadTasks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	wf.Tasks = tasks[id]
	return wf, nil
}

// ListWorkflows returns a tenant's workflows, tasks included, ordered
// by creation time.
func (s *Store) ListWorkflows(ctx context.Context, tenantID string) ([]*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, agent_id, name, description,
		       trigger_kind, trigger_config_json, inputs_json, active,
		       created_at, updated_at
		FROM workflows
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows, err := collectWorkflows(rows)
	if err != nil {
		return nil, err
	}
	return s.attachTasks(ctx, workflows)
}

// ListActiveEventWorkflows returns active workflows whose event trigger
// is bound to the named event. The trigger config is matched in Go so
// the filter behaves identically on every backend.
func (s *Store) ListActiveEventWorkflows(ctx context.Context, event string) ([]*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, agent_id, name, description,
		       trigger_kind, trigger_config_json, inputs_json, active,
		       created_at, updated_at
		FROM workflows
		WHERE trigger_kind = 'event' AND active = ?
	`
	rows, err := s.query(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query event workflows: %w", err)
	}
	defer rows.Close()

	all, err := collectWorkflows(rows)
	if err != nil {
		return nil, err
	}
	matched := make([]*types.Workflow, 0)
	for _, wf := range all {
		if name, ok := wf.TriggerConfig["event"].(string); ok && name == event {
			matched = append(matched, wf)
		}
	}
	return s.attachTasks(ctx, matched)
}

// CountWorkflows reports how many workflows a tenant owns, for quota
// checks.
func (s *Store) CountWorkflows(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM workflows WHERE tenant_id = ?`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflows: %w", err)
	}
	return count, nil
}

// UpdateWorkflow rewrites a workflow and replaces its task list in one
// transaction.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf.UpdatedAt = s.clock()

	triggerConfig, err := jsonColumn(wf.TriggerConfig)
	if err != nil {
		return err
	}
	inputs, err := jsonColumn(wf.Inputs)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE workflows
			SET name = ?, description = ?, trigger_kind = ?,
			    trigger_config_json = ?, inputs_json = ?, active = ?,
			    updated_at = ?
			WHERE id = ?
		`
		result, err := s.txExec(ctx, tx, query,
			wf.Name,
			nullString(wf.Description),
			wf.Trigger,
			triggerConfig,
			inputs,
			wf.Active,
			unixOrZero(wf.UpdatedAt),
			wf.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		if err := requireRow(result, "workflow", wf.ID); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM workflow_tasks WHERE workflow_id = ?`, wf.ID); err != nil {
			return fmt.Errorf("failed to clear workflow tasks: %w", err)
		}
		return s.insertTasks(ctx, tx, wf.ID, wf.Tasks)
	})
}

// SetWorkflowActive toggles a workflow on or off.
func (s *Store) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE workflows SET active = ?, updated_at = ? WHERE id = ?`
	result, err := s.exec(ctx, query, active, unixOrZero(s.clock()), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return requireRow(result, "workflow", id)
}

// DeleteWorkflow removes a workflow together with its tasks, execution
// history, and schedules. The cascade runs in one transaction.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txExec(ctx, tx, `DELETE FROM workflow_tasks WHERE workflow_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete workflow tasks: %w", err)
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM executions WHERE workflow_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete workflow executions: %w", err)
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM scheduled_jobs WHERE workflow_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete workflow schedules: %w", err)
		}
		result, err := s.txExec(ctx, tx, `DELETE FROM workflows WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete workflow: %w", err)
		}
		return requireRow(result, "workflow", id)
	})
}

// insertTasks writes the task rows for one workflow. task_index keeps
// the caller's ordering stable across round trips.
func (s *Store) insertTasks(ctx context.Context, tx *sql.Tx, workflowID string, tasks []types.WorkflowTask) error {
	query := `
		INSERT INTO workflow_tasks (
			id, workflow_id, task_index, task_order, name, kind,
			config_json, on_error, retry_count, error_goto
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range tasks {
		task := &tasks[i]
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		task.WorkflowID = workflowID

		config, err := jsonColumn(task.Config)
		if err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, query,
			task.ID,
			workflowID,
			i,
			task.Order,
			nullString(task.Name),
			string(task.Kind),
			config,
			nullString(task.OnError),
			task.RetryCount,
			nullString(task.ErrorGoto),
		); err != nil {
			return fmt.Errorf("failed to insert workflow task: %w", err)
		}
	}
	return nil
}

// attachTasks loads the tasks for every listed workflow with a single
// query.
func (s *Store) attachTasks(ctx context.Context, workflows []*types.Workflow) ([]*types.Workflow, error) {
	ids := make([]string, len(workflows))
	for i, wf := range workflows {
		ids[i] = wf.ID
	}
	tasks, err := s.loadTasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, wf := range workflows {
		wf.Tasks = tasks[wf.ID]
	}
	return workflows, nil
}

func (s *Store) loadTasks(ctx context.Context, workflowIDs []string) (map[string][]types.WorkflowTask, error) {
	byWorkflow := make(map[string][]types.WorkflowTask, len(workflowIDs))
	if len(workflowIDs) == 0 {
		return byWorkflow, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(workflowIDs)), ", ")
	args := make([]interface{}, len(workflowIDs))
	for i, id := range workflowIDs {
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT id, workflow_id, task_order, name, kind, config_json,
		       on_error, retry_count, error_goto
		FROM workflow_tasks
		WHERE workflow_id IN (%s)
		ORDER BY workflow_id, task_index
	`, placeholders)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			task      types.WorkflowTask
			name      sql.NullString
			kind      string
			config    sql.NullString
			onError   sql.NullString
			errorGoto sql.NullString
		)
		if err := rows.Scan(
			&task.ID, &task.WorkflowID, &task.Order, &name, &kind,
			&config, &onError, &task.RetryCount, &errorGoto,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow task: %w", err)
		}
		task.Name = stringOf(name)
		task.Kind = types.TaskKind(kind)
		if err := decodeColumn(config, &task.Config); err != nil {
			return nil, err
		}
		task.OnError = stringOf(onError)
		task.ErrorGoto = stringOf(errorGoto)
		byWorkflow[task.WorkflowID] = append(byWorkflow[task.WorkflowID], task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow tasks: %w", err)
	}
	return byWorkflow, nil
}

func scanWorkflow(row rowScanner) (*types.Workflow, error) {
	var (
		wf            types.Workflow
		description   sql.NullString
		triggerConfig sql.NullString
		inputs        sql.NullString
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(
		&wf.ID,
		&wf.TenantID,
		&wf.AgentID,
		&wf.Name,
		&description,
		&wf.Trigger,
		&triggerConfig,
		&inputs,
		&wf.Active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Description = stringOf(description)
	if err := decodeColumn(triggerConfig, &wf.TriggerConfig); err != nil {
		return nil, err
	}
	if err := decodeColumn(inputs, &wf.Inputs); err != nil {
		return nil, err
	}
	wf.CreatedAt = timeAt(createdAt)
	wf.UpdatedAt = timeAt(updatedAt)
	return &wf, nil
}

func collectWorkflows(rows *sql.Rows) ([]*types.Workflow, error) {
	workflows := make([]*types.Workflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return workflows, nil
}
