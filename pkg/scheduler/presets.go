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
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/types"
)

// Schedule presets accepted by CreateSchedule.
const (
	PresetDailyMorning    = "daily_morning"
	PresetDailyEvening    = "daily_evening"
	PresetWeekdaysMorning = "weekdays_morning"
	PresetWeeklyMonday    = "weekly_monday"
	PresetMonthlyFirst    = "monthly_first"
	PresetHourly          = "hourly"
)

// presetCrons maps the preset vocabulary the API exposes onto
// canonical cron expressions. Everything downstream of persistence
// sees only cron.
var presetCrons = map[string]string{
	PresetDailyMorning:    "0 9 * * *",
	PresetDailyEvening:    "0 18 * * *",
	PresetWeekdaysMorning: "0 9 * * 1-5",
	PresetWeeklyMonday:    "0 9 * * 1",
	PresetMonthlyFirst:    "0 9 1 * *",
	PresetHourly:          "0 * * * *",
}

// ResolvePreset translates a schedule preset into its cron
// expression.
func ResolvePreset(name string) (string, error) {
	expr, ok := presetCrons[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown schedule preset %q", types.ErrConfig, name)
	}
	return expr, nil
}

// CreateRequest describes a new schedule. Exactly one of Preset or
// CronExpr must be set; an empty Timezone takes the scheduler
// default.
type CreateRequest struct {
	WorkflowID string
	TenantID   string
	Preset     string
	CronExpr   string
	Timezone   string
}

// CreateSchedule persists an active schedule and computes its first
// fire instant.
func (s *Scheduler) CreateSchedule(ctx context.Context, req CreateRequest) (*types.ScheduledJob, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: schedule requires workflow_id", types.ErrConfig)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: schedule requires tenant_id", types.ErrConfig)
	}

	expr := req.CronExpr
	switch {
	case req.Preset != "" && expr != "":
		return nil, fmt.Errorf("%w: preset and cron_expr are mutually exclusive", types.ErrConfig)
	case req.Preset != "":
		var err error
		if expr, err = ResolvePreset(req.Preset); err != nil {
			return nil, err
		}
	case expr == "":
		return nil, fmt.Errorf("%w: schedule requires preset or cron_expr", types.ErrConfig)
	default:
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, fmt.Errorf("%w: invalid cron %q: %v", types.ErrConfig, expr, err)
		}
	}

	tz := req.Timezone
	if tz == "" {
		tz = s.timezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", types.ErrConfig, tz)
	}

	next, err := s.nextAfter(expr, tz, s.clock())
	if err != nil {
		return nil, err
	}
	job := &types.ScheduledJob{
		WorkflowID: req.WorkflowID,
		TenantID:   req.TenantID,
		CronExpr:   expr,
		Timezone:   tz,
		NextRun:    next,
		Active:     true,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Created schedule",
		zap.String("schedule_id", job.ID),
		zap.String("workflow_id", job.WorkflowID),
		zap.String("cron", expr),
		zap.String("timezone", tz),
		zap.Time("next_run", next))
	return job, nil
}

// PauseSchedule stops future fires without losing the schedule.
func (s *Scheduler) PauseSchedule(ctx context.Context, scheduleID string) (*types.ScheduledJob, error) {
	job, err := s.store.ScheduledJob(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !job.Active {
		return job, nil
	}
	job.Active = false
	if err := s.store.UpdateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("Paused schedule", zap.String("schedule_id", scheduleID))
	return job, nil
}

// ResumeSchedule reactivates a paused schedule. The next run is
// computed from now, so slots skipped while paused do not replay.
func (s *Scheduler) ResumeSchedule(ctx context.Context, scheduleID string) (*types.ScheduledJob, error) {
	job, err := s.store.ScheduledJob(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	next, err := s.nextAfter(job.CronExpr, job.Timezone, s.clock())
	if err != nil {
		return nil, err
	}
	job.Active = true
	job.NextRun = next
	if err := s.store.UpdateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("Resumed schedule",
		zap.String("schedule_id", scheduleID),
		zap.Time("next_run", next))
	return job, nil
}
