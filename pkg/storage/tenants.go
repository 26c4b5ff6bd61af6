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

// CreateTenant persists a new tenant.
func (s *Store) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = s.clock()
	}

	query := `
		INSERT INTO tenants (
			id, name, plan, subscription_status, trial_ends_at, tier,
			monthly_token_limit, tokens_used_this_month, limit_reset_at,
			max_users, max_agents, max_workflows, max_executions_per_month,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Plan,
		tenant.SubscriptionStatus,
		unixOrZero(tenant.TrialEndsAt),
		string(tenant.Tier),
		tenant.MonthlyTokenLimit,
		tenant.TokensUsedThisMonth,
		unixOrZero(tenant.LimitResetAt),
		tenant.MaxUsers,
		tenant.MaxAgents,
		tenant.MaxWorkflows,
		tenant.MaxExecutionsPerMonth,
		unixOrZero(tenant.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// Tenant retrieves one tenant by ID.
func (s *Store) Tenant(ctx context.Context, id string) (*types.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, plan, subscription_status, trial_ends_at, tier,
		       monthly_token_limit, tokens_used_this_month, limit_reset_at,
		       max_users, max_agents, max_workflows, max_executions_per_month,
		       created_at
		FROM tenants
		WHERE id = ?
	`
	var (
		tenant      types.Tenant
		tier        string
		trialEnds   int64
		limitReset  int64
		createdAt   int64
	)
	err := s.queryRow(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Plan,
		&tenant.SubscriptionStatus,
		&trialEnds,
		&tier,
		&tenant.MonthlyTokenLimit,
		&tenant.TokensUsedThisMonth,
		&limitReset,
		&tenant.MaxUsers,
		&tenant.MaxAgents,
		&tenant.MaxWorkflows,
		&tenant.MaxExecutionsPerMonth,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}

	tenant.Tier = types.Tier(tier)
	tenant.TrialEndsAt = timeAt(trialEnds)
	tenant.LimitResetAt = timeAt(limitReset)
	tenant.CreatedAt = timeAt(createdAt)
	return &tenant, nil
}

// UpdateTenant rewrites every mutable tenant field.
func (s *Store) UpdateTenant(ctx context.Context, tenant *types.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE tenants
		SET name = ?, plan = ?, subscription_status = ?, trial_ends_at = ?,
		    tier = ?, monthly_token_limit = ?, limit_reset_at = ?,
		    max_users = ?, max_agents = ?, max_workflows = ?,
		    max_executions_per_month = ?
		WHERE id = ?
	`
	result, err := s.exec(ctx, query,
		tenant.Name,
		tenant.Plan,
		tenant.SubscriptionStatus,
		unixOrZero(tenant.TrialEndsAt),
		string(tenant.Tier),
		tenant.MonthlyTokenLimit,
		unixOrZero(tenant.LimitResetAt),
		tenant.MaxUsers,
		tenant.MaxAgents,
		tenant.MaxWorkflows,
		tenant.MaxExecutionsPerMonth,
		tenant.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return requireRow(result, "tenant", tenant.ID)
}

// AddTenantTokens atomically adds delta to the tenant's monthly token
// counter. The increment happens in the database, never read-modify-
// write in Go.
func (s *Store) AddTenantTokens(ctx context.Context, tenantID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE tenants SET tokens_used_this_month = tokens_used_this_month + ? WHERE id = ?`
	result, err := s.exec(ctx, query, delta, tenantID)
	if err != nil {
		return fmt.Errorf("failed to add tenant tokens: %w", err)
	}
	return requireRow(result, "tenant", tenantID)
}

// ResetTenantTokens zeroes the monthly counter and advances the reset
// point. Called at the first operation on or after the old reset point.
func (s *Store) ResetTenantTokens(ctx context.Context, tenantID string, resetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE tenants SET tokens_used_this_month = 0, limit_reset_at = ? WHERE id = ?`
	result, err := s.exec(ctx, query, unixOrZero(resetAt), tenantID)
	if err != nil {
		return fmt.Errorf("failed to reset tenant tokens: %w", err)
	}
	return requireRow(result, "tenant", tenantID)
}

// SaveLLMConfig inserts or replaces a tenant's LLM configuration.
func (s *Store) SaveLLMConfig(ctx context.Context, cfg *types.TenantLLMConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKeys, err := jsonColumn(cfg.APIKeys)
	if err != nil {
		return err
	}
	allowed, err := jsonColumn(cfg.AllowedModels)
	if err != nil {
		return err
	}
	blocked, err := jsonColumn(cfg.BlockedModels)
	if err != nil {
		return err
	}
	now := unixOrZero(s.clock())

	// Upsert without dialect-specific ON CONFLICT clauses.
	update := `
		UPDATE tenant_llm_configs
		SET mode = ?, api_keys_json = ?, allowed_models_json = ?,
		    blocked_models_json = ?, preferred_provider = ?,
		    preferred_model = ?, updated_at = ?
		WHERE tenant_id = ?
	`
	result, err := s.exec(ctx, update,
		string(cfg.Mode), apiKeys, allowed, blocked,
		nullString(cfg.PreferredProvider), nullString(cfg.PreferredModel),
		now, cfg.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update llm config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	insert := `
		INSERT INTO tenant_llm_configs (
			tenant_id, mode, api_keys_json, allowed_models_json,
			blocked_models_json, preferred_provider, preferred_model, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.exec(ctx, insert,
		cfg.TenantID, string(cfg.Mode), apiKeys, allowed, blocked,
		nullString(cfg.PreferredProvider), nullString(cfg.PreferredModel), now,
	); err != nil {
		return fmt.Errorf("failed to insert llm config: %w", err)
	}
	return nil
}

// LLMConfig retrieves a tenant's LLM configuration. Returns (nil, nil)
// when the tenant has none stored; callers fall back to platform
// defaults.
func (s *Store) LLMConfig(ctx context.Context, tenantID string) (*types.TenantLLMConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT tenant_id, mode, api_keys_json, allowed_models_json,
		       blocked_models_json, preferred_provider, preferred_model
		FROM tenant_llm_configs
		WHERE tenant_id = ?
	`
	var (
		cfg               types.TenantLLMConfig
		mode              string
		apiKeys           sql.NullString
		allowed           sql.NullString
		blocked           sql.NullString
		preferredProvider sql.NullString
		preferredModel    sql.NullString
	)
	err := s.queryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID, &mode, &apiKeys, &allowed, &blocked,
		&preferredProvider, &preferredModel,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query llm config: %w", err)
	}

	cfg.Mode = types.UsageMode(mode)
	if err := decodeColumn(apiKeys, &cfg.APIKeys); err != nil {
		return nil, err
	}
	if err := decodeColumn(allowed, &cfg.AllowedModels); err != nil {
		return nil, err
	}
	if err := decodeColumn(blocked, &cfg.BlockedModels); err != nil {
		return nil, err
	}
	cfg.PreferredProvider = stringOf(preferredProvider)
	cfg.PreferredModel = stringOf(preferredModel)
	return &cfg, nil
}

// AppendUsageRecord inserts one immutable accounting entry.
func (s *Store) AppendUsageRecord(ctx context.Context, rec *types.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	if rec.Period == "" {
		rec.Period = types.BillingPeriod(rec.CreatedAt)
	}

	query := `
		INSERT INTO usage_records (
			id, tenant_id, user_id, usage_type, quantity,
			resource_id, resource_type, cost_usd, period, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		rec.ID,
		rec.TenantID,
		nullString(rec.UserID),
		string(rec.Type),
		rec.Quantity,
		nullString(rec.ResourceID),
		nullString(rec.ResourceType),
		rec.CostUSD,
		rec.Period,
		unixOrZero(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// UsageTotal aggregates one usage type for a tenant's billing period.
type UsageTotal struct {
	Type     types.UsageType `json:"type"`
	Quantity int64           `json:"quantity"`
	CostUSD  float64         `json:"cost_usd"`
	Records  int64           `json:"records"`
}

// UsageTotals aggregates a tenant's usage records for one period.
func (s *Store) UsageTotals(ctx context.Context, tenantID, period string) ([]UsageTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT usage_type, SUM(quantity), SUM(cost_usd), COUNT(*)
		FROM usage_records
		WHERE tenant_id = ? AND period = ?
		GROUP BY usage_type
		ORDER BY usage_type
	`
	rows, err := s.query(ctx, query, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer rows.Close()

	totals := make([]UsageTotal, 0)
	for rows.Next() {
		var (
			total     UsageTotal
			usageType string
		)
		if err := rows.Scan(&usageType, &total.Quantity, &total.CostUSD, &total.Records); err != nil {
			return nil, fmt.Errorf("failed to scan usage total: %w", err)
		}
		total.Type = types.UsageType(usageType)
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage totals: %w", err)
	}
	return totals, nil
}

// ListUsageRecords returns a tenant's records for one period, newest
// first.
func (s *Store) ListUsageRecords(ctx context.Context, tenantID, period string, limit int) ([]*types.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, tenant_id, user_id, usage_type, quantity,
		       resource_id, resource_type, cost_usd, period, created_at
		FROM usage_records
		WHERE tenant_id = ? AND period = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.query(ctx, query, tenantID, period, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	records := make([]*types.UsageRecord, 0)
	for rows.Next() {
		var (
			rec          types.UsageRecord
			userID       sql.NullString
			usageType    string
			resourceID   sql.NullString
			resourceType sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &userID, &usageType, &rec.Quantity,
			&resourceID, &resourceType, &rec.CostUSD, &rec.Period, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.UserID = stringOf(userID)
		rec.Type = types.UsageType(usageType)
		rec.ResourceID = stringOf(resourceID)
		rec.ResourceType = stringOf(resourceType)
		rec.CreatedAt = timeAt(createdAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
