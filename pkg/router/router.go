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
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/factory"
	"github.com/atelierhq/atelier/pkg/types"
)

// estimateBuffer is added to every token estimate before the quota
// check, covering completion tokens the estimate cannot see.
const estimateBuffer = 500

// Store is the persistence surface the router depends on.
type Store interface {
	// Tenant loads a tenant by id.
	Tenant(ctx context.Context, id string) (*types.Tenant, error)

	// LLMConfig returns the tenant's LLM config, or nil when none is
	// stored (platform-mode defaults apply).
	LLMConfig(ctx context.Context, tenantID string) (*types.TenantLLMConfig, error)

	// AddTenantTokens atomically adds delta to the tenant's monthly
	// token counter. Concurrent increments for the same tenant must
	// serialize.
	AddTenantTokens(ctx context.Context, tenantID string, delta int64) error

	// ResetTenantTokens zeroes the monthly counter and advances the
	// reset point.
	ResetTenantTokens(ctx context.Context, tenantID string, resetAt time.Time) error

	// AppendUsageRecord appends an immutable usage record.
	AppendUsageRecord(ctx context.Context, rec *types.UsageRecord) error
}

// KeyOpener unseals stored BYOK API keys.
type KeyOpener interface {
	Open(sealed string) (string, error)
}

// RouteRequest is one request to route and complete.
type RouteRequest struct {
	TenantID    string
	UserID      string
	Task        types.TaskType
	Messages    []types.Message
	Tools       []types.ToolDef
	Temperature float64
	MaxTokens   int
	Preferences Preferences
}

// Config holds router configuration.
type Config struct {
	// Providers are the platform-keyed adapters by provider name.
	Providers map[string]llm.Provider
	Store     Store
	Secrets   KeyOpener
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Router turns (tenant, task type, preferences) into provider calls
// with tier gating, budget enforcement, health tracking, and usage
// recording.
type Router struct {
	providers map[string]llm.Provider
	store     Store
	secrets   KeyOpener
	health    *Health
	logger    *zap.Logger
	clock     func() time.Time
}

// New creates a router.
func New(config Config) *Router {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	providers := make(map[string]llm.Provider, len(config.Providers))
	for name, p := range config.Providers {
		providers[name] = p
	}
	return &Router{
		providers: providers,
		store:     config.Store,
		secrets:   config.Secrets,
		health:    NewHealth(),
		logger:    config.Logger,
		clock:     config.Clock,
	}
}

// Health exposes the router's provider health tracker.
func (r *Router) Health() *Health {
	return r.health
}

// routeState carries per-request routing context between phases.
type routeState struct {
	tenant    *types.Tenant
	cfg       *types.TenantLLMConfig
	adapters  map[string]llm.Provider
	selection Selection
	now       time.Time
}

// Complete routes the request and performs a blocking completion.
func (r *Router) Complete(ctx context.Context, req RouteRequest) (*types.Completion, error) {
	return r.run(ctx, req, func(p llm.Provider, lreq llm.Request) (*types.Completion, error) {
		return p.Complete(ctx, lreq)
	})
}

// Stream routes the request and streams the completion through fn.
func (r *Router) Stream(ctx context.Context, req RouteRequest, fn llm.StreamFunc) (*types.Completion, error) {
	return r.run(ctx, req, func(p llm.Provider, lreq llm.Request) (*types.Completion, error) {
		return p.Stream(ctx, lreq, fn)
	})
}

// Select resolves the (provider, model) the request would use without
// calling the provider.
func (r *Router) Select(ctx context.Context, req RouteRequest) (Selection, error) {
	st, err := r.prepare(ctx, req)
	if err != nil {
		return Selection{}, err
	}
	return st.selection, nil
}

func (r *Router) run(ctx context.Context, req RouteRequest, do func(llm.Provider, llm.Request) (*types.Completion, error)) (*types.Completion, error) {
	st, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	adapter, ok := st.adapters[st.selection.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for provider %s", types.ErrUpstream, st.selection.Provider)
	}

	completion, callErr := do(adapter, r.buildRequest(st, req))
	if callErr == nil {
		r.finish(ctx, st, req, completion)
		return completion, nil
	}

	if !countsAsFailure(callErr) {
		return nil, callErr
	}
	count := r.health.RecordFailure(st.selection.Provider, callErr)
	r.logger.Warn("provider call failed",
		zap.String("provider", st.selection.Provider),
		zap.String("model", st.selection.Model),
		zap.Int("failure_count", count),
		zap.Error(callErr))
	if count <= maxFailures {
		return nil, callErr
	}

	completion, fbErr := r.failover(ctx, st, req, do)
	if fbErr != nil {
		// Surface the original error, not the fallback's.
		return nil, callErr
	}
	return completion, nil
}

// prepare loads tenant state, applies the monthly rollover, enforces
// the token budget, and selects a model. No provider traffic happens
// here.
func (r *Router) prepare(ctx context.Context, req RouteRequest) (*routeState, error) {
	tenant, err := r.store.Tenant(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	cfg, err := r.store.LLMConfig(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	if cfg == nil {
		cfg = &types.TenantLLMConfig{TenantID: tenant.ID, Mode: types.ModePlatform}
	}
	if cfg.Mode == "" {
		cfg.Mode = types.ModePlatform
	}

	now := r.clock()
	if !tenant.LimitResetAt.IsZero() && !now.Before(tenant.LimitResetAt) {
		resetAt := types.NextMonthStart(now)
		if err := r.store.ResetTenantTokens(ctx, tenant.ID, resetAt); err != nil {
			return nil, fmt.Errorf("reset token counter: %w", err)
		}
		tenant.TokensUsedThisMonth = 0
		tenant.LimitResetAt = resetAt
	}

	adapters, err := r.adapterSet(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == types.ModePlatform && !tenant.Unlimited() {
		estimate := int64(GetEstimator().EstimateMessages(req.Messages)) + estimateBuffer
		if tenant.TokensUsedThisMonth+estimate > tenant.MonthlyTokenLimit {
			return nil, &types.QuotaExceededError{
				Remaining: tenant.MonthlyTokenLimit - tenant.TokensUsedThisMonth,
				Limit:     tenant.MonthlyTokenLimit,
				ResetAt:   tenant.LimitResetAt,
			}
		}
	}

	available := make(map[string]bool, len(adapters))
	for name := range adapters {
		if r.health.Healthy(name) {
			available[name] = true
		}
	}

	selection, err := SelectModel(req.Task, tenant.Tier, req.Preferences, available, cfg)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("selected model",
		zap.String("tenant_id", tenant.ID),
		zap.String("task", string(req.Task)),
		zap.String("provider", selection.Provider),
		zap.String("model", selection.Model),
		zap.String("reason", selection.Reason))

	return &routeState{tenant: tenant, cfg: cfg, adapters: adapters, selection: selection, now: now}, nil
}

func (r *Router) buildRequest(st *routeState, req RouteRequest) llm.Request {
	return llm.Request{
		Messages:    req.Messages,
		Model:       st.selection.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
	}
}

// failover re-selects one tier higher with quality preferred,
// excluding the failed provider, and retries once.
func (r *Router) failover(ctx context.Context, st *routeState, req RouteRequest, do func(llm.Provider, llm.Request) (*types.Completion, error)) (*types.Completion, error) {
	failed := st.selection.Provider
	available := make(map[string]bool, len(st.adapters))
	for name := range st.adapters {
		if name != failed && r.health.Healthy(name) {
			available[name] = true
		}
	}

	prefs := req.Preferences
	prefs.PreferQuality = true
	prefs.Model = ""
	selection, err := SelectModel(req.Task, nextTier(st.tenant.Tier), prefs, available, st.cfg)
	if err != nil {
		return nil, err
	}
	adapter, ok := st.adapters[selection.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for provider %s", types.ErrUpstream, selection.Provider)
	}

	r.logger.Info("failing over",
		zap.String("from", failed),
		zap.String("to", selection.Provider),
		zap.String("model", selection.Model))

	st.selection = selection
	completion, err := do(adapter, r.buildRequest(st, req))
	if err != nil {
		if countsAsFailure(err) {
			r.health.RecordFailure(selection.Provider, err)
		}
		return nil, err
	}
	r.finish(ctx, st, req, completion)
	return completion, nil
}

// finish records health, budget consumption, and the usage record
// after a successful completion.
func (r *Router) finish(ctx context.Context, st *routeState, req RouteRequest, completion *types.Completion) {
	r.health.RecordSuccess(st.selection.Provider, completion.LatencyMS)

	total := int64(completion.Usage.TotalTokens)
	if st.cfg.Mode == types.ModePlatform {
		if err := r.store.AddTenantTokens(ctx, st.tenant.ID, total); err != nil {
			r.logger.Error("failed to update token counter",
				zap.String("tenant_id", st.tenant.ID), zap.Error(err))
		}
	}

	rec := &types.UsageRecord{
		ID:           uuid.NewString(),
		TenantID:     st.tenant.ID,
		UserID:       req.UserID,
		Type:         types.UsageLLMTokens,
		Quantity:     total,
		ResourceID:   completion.Model,
		ResourceType: "model",
		CostUSD:      costUSD(completion.Model, completion.Usage),
		Period:       types.BillingPeriod(st.now),
		CreatedAt:    st.now,
	}
	if err := r.store.AppendUsageRecord(ctx, rec); err != nil {
		r.logger.Error("failed to append usage record",
			zap.String("tenant_id", st.tenant.ID), zap.Error(err))
	}
}

// adapterSet resolves the adapters usable for the tenant's key mode.
func (r *Router) adapterSet(cfg *types.TenantLLMConfig) (map[string]llm.Provider, error) {
	switch cfg.Mode {
	case types.ModeBYOK:
		adapters := r.tenantAdapters(cfg)
		if len(adapters) == 0 {
			return nil, fmt.Errorf("%w: byok mode with no usable keys", types.ErrConfig)
		}
		return adapters, nil
	case types.ModeHybrid:
		adapters := make(map[string]llm.Provider, len(r.providers))
		for name, p := range r.providers {
			adapters[name] = p
		}
		// Tenant keys take precedence over platform keys.
		for name, p := range r.tenantAdapters(cfg) {
			adapters[name] = p
		}
		return adapters, nil
	default:
		adapters := make(map[string]llm.Provider, len(r.providers))
		for name, p := range r.providers {
			adapters[name] = p
		}
		return adapters, nil
	}
}

// tenantAdapters builds adapters from the tenant's sealed keys.
// Unusable entries are skipped, not fatal.
func (r *Router) tenantAdapters(cfg *types.TenantLLMConfig) map[string]llm.Provider {
	adapters := make(map[string]llm.Provider, len(cfg.APIKeys))
	for name, sealed := range cfg.APIKeys {
		key := sealed
		if r.secrets != nil {
			opened, err := r.secrets.Open(sealed)
			if err != nil {
				r.logger.Warn("failed to unseal tenant key",
					zap.String("tenant_id", cfg.TenantID),
					zap.String("provider", name),
					zap.Error(err))
				continue
			}
			key = opened
		}
		adapter, err := factory.New(factory.Config{Provider: name, APIKey: key})
		if err != nil {
			r.logger.Warn("skipping unknown byok provider",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("provider", name))
			continue
		}
		adapters[name] = adapter
	}
	return adapters
}

// countsAsFailure reports whether err raises the provider's failure
// count. Rate limits already retried at the adapter and explicit
// cancellations do not.
func countsAsFailure(err error) bool {
	return errors.Is(err, types.ErrAuth) ||
		errors.Is(err, types.ErrUpstream) ||
		errors.Is(err, types.ErrTimeout)
}

// nextTier returns the tier one level up, saturating at enterprise.
func nextTier(t types.Tier) types.Tier {
	switch t {
	case types.TierFree:
		return types.TierStandard
	case types.TierStandard:
		return types.TierProfessional
	default:
		return types.TierEnterprise
	}
}

// Stats is a diagnostic snapshot of the router.
type Stats struct {
	Providers map[string]ProviderStats `json:"providers"`
	Models    []string                 `json:"models"`
}

// Stats reports provider health and the routable model set.
func (r *Router) Stats() Stats {
	available := make(map[string]bool, len(r.providers))
	for name := range r.providers {
		available[name] = true
	}
	var models []string
	for _, m := range catalog {
		if available[m.Provider] {
			models = append(models, m.ID)
		}
	}
	return Stats{Providers: r.health.Snapshot(), Models: models}
}
