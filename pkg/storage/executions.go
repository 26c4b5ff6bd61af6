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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/types"
)

// CreateExecution persists a new execution record.
func (s *Store) CreateExecution(ctx context.Context, ex *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.StartedAt.IsZero() {
		ex.StartedAt = s.clock()
	}
	if ex.Status == "" {
		ex.Status = types.ExecPending
	}

	input, err := jsonColumn(ex.Input)
	if err != nil {
		return err
	}
	variables, err := jsonColumn(ex.Variables)
	if err != nil {
		return err
	}
	completed, err := jsonColumn(ex.TasksCompleted)
	if err != nil {
		return err
	}
	results, compressed, err := s.encodeResults(ex.TaskResults)
	if err != nil {
		return err
	}
	output, err := jsonColumn(ex.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, tenant_id, user_id, status, trigger_kind,
			input_json, variables_json, current_task_order,
			tasks_completed_json, task_results, task_results_compressed,
			output_json, error_message, error_task_id,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		ex.ID,
		ex.WorkflowID,
		ex.TenantID,
		nullString(ex.UserID),
		string(ex.Status),
		nullString(ex.Trigger),
		input,
		variables,
		nullString(ex.CurrentTaskOrder),
		completed,
		results,
		compressed,
		output,
		nullString(ex.ErrorMessage),
		nullString(ex.ErrorTaskID),
		unixOrZero(ex.StartedAt),
		unixOrZeroPtr(ex.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// Execution retrieves one execution by ID.
func (s *Store) Execution(ctx context.Context, id string) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, workflow_id, tenant_id, user_id, status, trigger_kind,
		       input_json, variables_json, current_task_order,
		       tasks_completed_json, task_results, task_results_compressed,
		       output_json, error_message, error_task_id,
		       started_at, completed_at
		FROM executions
		WHERE id = ?
	`
	ex, err := s.scanExecution(s.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	return ex, nil
}

// SaveExecutionStep writes back every mutable execution field in one
// statement, so a crash between tasks never leaves half an update.
func (s *Store) SaveExecutionStep(ctx context.Context, ex *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	variables, err := jsonColumn(ex.Variables)
	if err != nil {
		return err
	}
	completed, err := jsonColumn(ex.TasksCompleted)
	if err != nil {
		return err
	}
	results, compressed, err := s.encodeResults(ex.TaskResults)
	if err != nil {
		return err
	}
	output, err := jsonColumn(ex.Output)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions
		SET status = ?, variables_json = ?, current_task_order = ?,
		    tasks_completed_json = ?, task_results = ?,
		    task_results_compressed = ?, output_json = ?,
		    error_message = ?, error_task_id = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, query,
		string(ex.Status),
		variables,
		nullString(ex.CurrentTaskOrder),
		completed,
		results,
		compressed,
		output,
		nullString(ex.ErrorMessage),
		nullString(ex.ErrorTaskID),
		unixOrZeroPtr(ex.CompletedAt),
		ex.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return requireRow(result, "execution", ex.ID)
}

// ListExecutions returns a tenant's executions newest first. An empty
// workflowID matches every workflow; limit defaults to 50.
func (s *Store) ListExecutions(ctx context.Context, tenantID, workflowID string, limit int) ([]*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, workflow_id, tenant_id, user_id, status, trigger_kind,
		       input_json, variables_json, current_task_order,
		       tasks_completed_json, task_results, task_results_compressed,
		       output_json, error_message, error_task_id,
		       started_at, completed_at
		FROM executions
		WHERE tenant_id = ?
	`
	args := []interface{}{tenantID}
	if workflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*types.Execution, 0)
	for rows.Next() {
		ex, err := s.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

// CountExecutionsSince counts a tenant's executions started at or after
// the given time, for monthly quota checks.
func (s *Store) CountExecutionsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	query := `SELECT COUNT(*) FROM executions WHERE tenant_id = ? AND started_at >= ?`
	err := s.queryRow(ctx, query, tenantID, since.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// DeleteExecutionsBefore removes finished executions completed before
// the cutoff and reports how many rows went away. Running and parked
// executions are never touched.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM executions WHERE completed_at > 0 AND completed_at < ?`
	result, err := s.exec(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (s *Store) scanExecution(row rowScanner) (*types.Execution, error) {
	var (
		ex          types.Execution
		userID      sql.NullString
		status      string
		trigger     sql.NullString
		input       sql.NullString
		variables   sql.NullString
		currentTask sql.NullString
		completed   sql.NullString
		results     []byte
		compressed  bool
		output      sql.NullString
		errMessage  sql.NullString
		errTaskID   sql.NullString
		startedAt   int64
		completedAt int64
	)
	err := row.Scan(
		&ex.ID,
		&ex.WorkflowID,
		&ex.TenantID,
		&userID,
		&status,
		&trigger,
		&input,
		&variables,
		&currentTask,
		&completed,
		&results,
		&compressed,
		&output,
		&errMessage,
		&errTaskID,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	ex.UserID = stringOf(userID)
	ex.Status = types.ExecutionStatus(status)
	ex.Trigger = stringOf(trigger)
	if err := decodeColumn(input, &ex.Input); err != nil {
		return nil, err
	}
	if err := decodeColumn(variables, &ex.Variables); err != nil {
		return nil, err
	}
	ex.CurrentTaskOrder = stringOf(currentTask)
	if err := decodeColumn(completed, &ex.TasksCompleted); err != nil {
		return nil, err
	}
	ex.TaskResults, err = s.decodeResults(results, compressed)
	if err != nil {
		return nil, err
	}
	if err := decodeColumn(output, &ex.Output); err != nil {
		return nil, err
	}
	ex.ErrorMessage = stringOf(errMessage)
	ex.ErrorTaskID = stringOf(errTaskID)
	ex.StartedAt = timeAt(startedAt)
	ex.CompletedAt = timePtrAt(completedAt)
	return &ex, nil
}

// encodeResults serializes the task result map for the blob column.
// Large payloads come back compressed.
func (s *Store) encodeResults(results map[string]types.TaskResult) ([]byte, bool, error) {
	if len(results) == 0 {
		return nil, false, nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal task results: %w", err)
	}
	data, compressed := s.codec.encode(raw)
	return data, compressed, nil
}

func (s *Store) decodeResults(data []byte, compressed bool) (map[string]types.TaskResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := s.codec.decode(data, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress task results: %w", err)
	}
	var results map[string]types.TaskResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task results: %w", err)
	}
	return results, nil
}
