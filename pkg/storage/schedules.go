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
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/types"
)

// CreateScheduledJob persists a new schedule.
func (s *Store) CreateScheduledJob(ctx context.Context, job *types.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	query := `
		INSERT INTO scheduled_jobs (
			id, workflow_id, tenant_id, cron_expr, timezone,
			next_run, last_run, last_execution_id, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		job.ID,
		job.WorkflowID,
		job.TenantID,
		job.CronExpr,
		job.Timezone,
		unixOrZero(job.NextRun),
		unixOrZeroPtr(job.LastRun),
		nullString(job.LastExecutionID),
		job.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled job: %w", err)
	}
	return nil
}

// ScheduledJob retrieves one schedule by ID.
func (s *Store) ScheduledJob(ctx context.Context, id string) (*types.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanScheduledJob(s.queryRow(ctx, scheduledJobQuery+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled job: %w", err)
	}
	return job, nil
}

// ScheduledJobByWorkflow retrieves the schedule bound to a workflow, if
// any. Each workflow carries at most one schedule.
func (s *Store) ScheduledJobByWorkflow(ctx context.Context, workflowID string) (*types.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanScheduledJob(s.queryRow(ctx, scheduledJobQuery+` WHERE workflow_id = ?`, workflowID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule for workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled job: %w", err)
	}
	return job, nil
}

// ListScheduledJobs returns a tenant's schedules.
func (s *Store) ListScheduledJobs(ctx context.Context, tenantID string) ([]*types.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.query(ctx, scheduledJobQuery+` WHERE tenant_id = ? ORDER BY next_run ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()
	return collectScheduledJobs(rows)
}

// DueScheduledJobs returns active schedules whose next run is at or
// before now. Jobs with an unset next_run are never due.
func (s *Store) DueScheduledJobs(ctx context.Context, now time.Time) ([]*types.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := scheduledJobQuery + ` WHERE active = ? AND next_run > 0 AND next_run <= ? ORDER BY next_run ASC`
	rows, err := s.query(ctx, query, true, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled jobs: %w", err)
	}
	defer rows.Close()
	return collectScheduledJobs(rows)
}

// ClaimScheduledJob records a fire, writing the job's LastRun, NextRun,
// and LastExecutionID. The update only applies while next_run still
// holds the value the caller observed, so schedulers racing on the same
// job fire it once; the loser gets false.
func (s *Store) ClaimScheduledJob(ctx context.Context, job *types.ScheduledJob, observed time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE scheduled_jobs
		SET last_run = ?, next_run = ?, last_execution_id = ?
		WHERE id = ? AND next_run = ?
	`
	result, err := s.exec(ctx, query,
		unixOrZeroPtr(job.LastRun),
		unixOrZero(job.NextRun),
		nullString(job.LastExecutionID),
		job.ID,
		observed.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateScheduledJob rewrites every mutable schedule field.
func (s *Store) UpdateScheduledJob(ctx context.Context, job *types.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE scheduled_jobs
		SET cron_expr = ?, timezone = ?, next_run = ?, last_run = ?,
		    last_execution_id = ?, active = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, query,
		job.CronExpr,
		job.Timezone,
		unixOrZero(job.NextRun),
		unixOrZeroPtr(job.LastRun),
		nullString(job.LastExecutionID),
		job.Active,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return requireRow(result, "scheduled job", job.ID)
}

// DeleteScheduledJob removes a schedule.
func (s *Store) DeleteScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.exec(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	return requireRow(result, "scheduled job", id)
}

const scheduledJobQuery = `
	SELECT id, workflow_id, tenant_id, cron_expr, timezone,
	       next_run, last_run, last_execution_id, active
	FROM scheduled_jobs`

func scanScheduledJob(row rowScanner) (*types.ScheduledJob, error) {
	var (
		job         types.ScheduledJob
		nextRun     int64
		lastRun     int64
		executionID sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.WorkflowID,
		&job.TenantID,
		&job.CronExpr,
		&job.Timezone,
		&nextRun,
		&lastRun,
		&executionID,
		&job.Active,
	)
	if err != nil {
		return nil, err
	}
	job.NextRun = timeAt(nextRun)
	job.LastRun = timePtrAt(lastRun)
	job.LastExecutionID = stringOf(executionID)
	return &job, nil
}

func collectScheduledJobs(rows *sql.Rows) ([]*types.ScheduledJob, error) {
	jobs := make([]*types.ScheduledJob, 0)
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled jobs: %w", err)
	}
	return jobs, nil
}
