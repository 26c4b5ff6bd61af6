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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

type fakeStore struct {
	mu         sync.Mutex
	tenant     *types.Tenant
	cfg        *types.TenantLLMConfig
	records    []*types.UsageRecord
	resetCalls int
}

func (s *fakeStore) Tenant(ctx context.Context, id string) (*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenant == nil || s.tenant.ID != id {
		return nil, fmt.Errorf("tenant %s not found", id)
	}
	copied := *s.tenant
	return &copied, nil
}

func (s *fakeStore) LLMConfig(ctx context.Context, tenantID string) (*types.TenantLLMConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *fakeStore) AddTenantTokens(ctx context.Context, tenantID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant.TokensUsedThisMonth += delta
	return nil
}

func (s *fakeStore) ResetTenantTokens(ctx context.Context, tenantID string, resetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant.TokensUsedThisMonth = 0
	s.tenant.LimitResetAt = resetAt
	s.resetCalls++
	return nil
}

func (s *fakeStore) AppendUsageRecord(ctx context.Context, rec *types.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type stubProvider struct {
	mu    sync.Mutex
	name  string
	err   error
	usage types.Usage
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, req llm.Request) (*types.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &types.Completion{
		Content:      "ok",
		Model:        req.Model,
		Provider:     p.name,
		Usage:        p.usage,
		FinishReason: "stop",
		LatencyMS:    12,
	}, nil
}

func (p *stubProvider) Stream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*types.Completion, error) {
	return p.Complete(ctx, req)
}

func (p *stubProvider) Models() []string { return nil }

func (p *stubProvider) Capabilities(model string) types.ModelCaps { return types.ModelCaps{} }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func allProviders() map[string]bool {
	return map[string]bool{"groq": true, "openai": true, "anthropic": true}
}

func setupTestRouter(t *testing.T, tenant *types.Tenant, providers map[string]llm.Provider) (*Router, *fakeStore) {
	t.Helper()
	store := &fakeStore{tenant: tenant}
	r := New(Config{
		Providers: providers,
		Store:     store,
		Clock: func() time.Time {
			return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		},
	})
	return r, store
}

func freeTenant() *types.Tenant {
	return &types.Tenant{
		ID:                "tenant-1",
		Tier:              types.TierFree,
		MonthlyTokenLimit: 100000,
		LimitResetAt:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSelectModelTierGating(t *testing.T) {
	// A selection never returns a model above the tenant's tier.
	for _, tier := range []types.Tier{types.TierFree, types.TierStandard, types.TierProfessional, types.TierEnterprise} {
		gated := make(map[string]bool)
		for _, id := range TierModels(tier) {
			gated[id] = true
		}
		for _, task := range []types.TaskType{types.TaskChat, types.TaskCode, types.TaskQuick, types.TaskSummarize, types.TaskWriting} {
			sel, err := SelectModel(task, tier, Preferences{}, allProviders(), nil)
			require.NoError(t, err)
			assert.True(t, gated[sel.Model], "tier %s task %s returned out-of-tier model %s", tier, task, sel.Model)
		}
	}
}

func TestSelectModelDeterminism(t *testing.T) {
	first, err := SelectModel(types.TaskAnalyze, types.TierProfessional, Preferences{PreferQuality: true}, allProviders(), nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := SelectModel(types.TaskAnalyze, types.TierProfessional, Preferences{PreferQuality: true}, allProviders(), nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelectModelSummarizeFreeTier(t *testing.T) {
	sel, err := SelectModel(types.TaskSummarize, types.TierFree, Preferences{}, allProviders(), nil)
	require.NoError(t, err)
	assert.Equal(t, "groq", sel.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", sel.Model)
}

func TestSelectModelUnknownTask(t *testing.T) {
	_, err := SelectModel(types.TaskType("juggling"), types.TierFree, Preferences{}, allProviders(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestSelectModelRequestedModel(t *testing.T) {
	sel, err := SelectModel(types.TaskChat, types.TierProfessional, Preferences{Model: "gpt-4o"}, allProviders(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", sel.Model)
	assert.Equal(t, "Requested model", sel.Reason)

	// Same model is out of reach one tier down.
	_, err = SelectModel(types.TaskChat, types.TierFree, Preferences{Model: "gpt-4o"}, allProviders(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidModel))
}

func TestSelectModelAllowBlockLists(t *testing.T) {
	cfg := &types.TenantLLMConfig{AllowedModels: []string{"llama-3.1-8b-instant"}}
	sel, err := SelectModel(types.TaskChat, types.TierFree, Preferences{}, allProviders(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", sel.Model)

	cfg = &types.TenantLLMConfig{BlockedModels: []string{"llama-3.3-70b-versatile"}}
	sel, err = SelectModel(types.TaskSummarize, types.TierFree, Preferences{}, allProviders(), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, "llama-3.3-70b-versatile", sel.Model)
}

func TestSelectModelFallbackDifferentProvider(t *testing.T) {
	// All free-tier models live on groq; with groq excluded the
	// selection falls back to another provider's first model.
	available := map[string]bool{"openai": true, "anthropic": true}
	sel, err := SelectModel(types.TaskChat, types.TierFree, Preferences{PreferQuality: true}, available, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "groq", sel.Provider)
	assert.Equal(t, "Fallback", sel.Reason)
}

func TestSelectModelNoProviders(t *testing.T) {
	_, err := SelectModel(types.TaskChat, types.TierFree, Preferences{}, map[string]bool{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstream))
}

func TestWeightsRenormalize(t *testing.T) {
	for _, prefs := range []Preferences{{}, {PreferSpeed: true}, {PreferQuality: true}, {PreferSpeed: true, PreferQuality: true}} {
		w := weightsFor(prefs)
		assert.InDelta(t, 1.0, w.cost+w.speed+w.quality, 1e-9)
	}

	base := weightsFor(Preferences{})
	boosted := weightsFor(Preferences{PreferQuality: true})
	assert.Greater(t, boosted.quality, base.quality)
	assert.Less(t, boosted.cost, base.cost)
}

func TestHealthTracking(t *testing.T) {
	h := NewHealth()
	assert.True(t, h.Healthy("groq"))

	for i := 0; i < 4; i++ {
		h.RecordFailure("groq", errors.New("boom"))
	}
	assert.False(t, h.Healthy("groq"))
	assert.Equal(t, 4, h.FailureCount("groq"))

	h.RecordSuccess("groq", 120)
	assert.True(t, h.Healthy("groq"))
	assert.Equal(t, 0, h.FailureCount("groq"))

	h.RecordSuccess("groq", 80)
	stats := h.Snapshot()["groq"]
	assert.True(t, stats.Healthy)
	assert.Equal(t, int64(100), stats.AvgLatencyMS)
	assert.Equal(t, 2, stats.Samples)
}

func TestCompleteHappyPath(t *testing.T) {
	groq := &stubProvider{name: "groq", usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	r, store := setupTestRouter(t, freeTenant(), map[string]llm.Provider{"groq": groq})

	completion, err := r.Complete(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Task:     types.TaskSummarize,
		Messages: []types.Message{{Role: "user", Content: "Résume ceci en 3 points"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "groq", completion.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", completion.Model)

	// Counter incremented by exactly the reported usage and one
	// matching record appended.
	assert.Equal(t, int64(15), store.tenant.TokensUsedThisMonth)
	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, types.UsageLLMTokens, rec.Type)
	assert.Equal(t, int64(15), rec.Quantity)
	assert.Equal(t, "llama-3.3-70b-versatile", rec.ResourceID)
	assert.Equal(t, "2024-01", rec.Period)
	assert.Greater(t, rec.CostUSD, 0.0)
}

func TestCounterMatchesRecords(t *testing.T) {
	groq := &stubProvider{name: "groq", usage: types.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	r, store := setupTestRouter(t, freeTenant(), map[string]llm.Provider{"groq": groq})

	for i := 0; i < 3; i++ {
		_, err := r.Complete(context.Background(), RouteRequest{
			TenantID: "tenant-1",
			Task:     types.TaskChat,
			Messages: []types.Message{{Role: "user", Content: "bonjour"}},
		})
		require.NoError(t, err)
	}

	var sum int64
	for _, rec := range store.records {
		sum += rec.Quantity
	}
	assert.Equal(t, store.tenant.TokensUsedThisMonth, sum)
}

func TestQuotaExceeded(t *testing.T) {
	tenant := freeTenant()
	tenant.TokensUsedThisMonth = 99800
	groq := &stubProvider{name: "groq"}
	r, store := setupTestRouter(t, tenant, map[string]llm.Provider{"groq": groq})

	_, err := r.Complete(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	})
	require.Error(t, err)

	var quota *types.QuotaExceededError
	require.True(t, errors.As(err, &quota))
	assert.Equal(t, int64(200), quota.Remaining)
	assert.Equal(t, int64(100000), quota.Limit)
	assert.Equal(t, tenant.LimitResetAt, quota.ResetAt)

	// No provider traffic, no usage record.
	assert.Equal(t, 0, groq.callCount())
	assert.Empty(t, store.records)
}

func TestQuotaUnlimitedTenant(t *testing.T) {
	tenant := freeTenant()
	tenant.MonthlyTokenLimit = 0
	tenant.TokensUsedThisMonth = 5_000_000
	groq := &stubProvider{name: "groq", usage: types.Usage{TotalTokens: 5}}
	r, _ := setupTestRouter(t, tenant, map[string]llm.Provider{"groq": groq})

	_, err := r.Complete(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	})
	require.NoError(t, err)
}

func TestMonthlyRollover(t *testing.T) {
	tenant := freeTenant()
	tenant.TokensUsedThisMonth = 99999
	tenant.LimitResetAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // already passed
	groq := &stubProvider{name: "groq", usage: types.Usage{TotalTokens: 20}}
	r, store := setupTestRouter(t, tenant, map[string]llm.Provider{"groq": groq})

	_, err := r.Complete(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.resetCalls)
	assert.Equal(t, int64(20), store.tenant.TokensUsedThisMonth)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), store.tenant.LimitResetAt)
}

func TestFailoverAfterRepeatedFailures(t *testing.T) {
	groq := &stubProvider{name: "groq", err: fmt.Errorf("groq: %w", types.ErrUpstream)}
	openai := &stubProvider{name: "openai", usage: types.Usage{TotalTokens: 8}}
	r, _ := setupTestRouter(t, freeTenant(), map[string]llm.Provider{"groq": groq, "openai": openai})

	req := RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	}

	// First three failures surface unchanged.
	for i := 0; i < 3; i++ {
		_, err := r.Complete(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrUpstream))
	}
	assert.Equal(t, 3, r.Health().FailureCount("groq"))

	// The fourth crosses the threshold and fails over.
	completion, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "openai", completion.Provider)
	assert.Equal(t, 1, openai.callCount())

	// With groq now unhealthy, selection avoids it up front.
	completion, err = r.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "openai", completion.Provider)
}

func TestFailoverExhaustedSurfacesOriginalError(t *testing.T) {
	originalErr := fmt.Errorf("groq down: %w", types.ErrUpstream)
	groq := &stubProvider{name: "groq", err: originalErr}
	r, _ := setupTestRouter(t, freeTenant(), map[string]llm.Provider{"groq": groq})

	req := RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	}
	var err error
	for i := 0; i < 4; i++ {
		_, err = r.Complete(context.Background(), req)
		require.Error(t, err)
	}
	// No other provider to fail over to: original error surfaces.
	assert.ErrorContains(t, err, "groq down")
}

func TestBYOKModeWithoutKeys(t *testing.T) {
	tenant := freeTenant()
	groq := &stubProvider{name: "groq"}
	r, store := setupTestRouter(t, tenant, map[string]llm.Provider{"groq": groq})
	store.cfg = &types.TenantLLMConfig{TenantID: tenant.ID, Mode: types.ModeBYOK}

	_, err := r.Complete(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestHybridUsesTenantKeys(t *testing.T) {
	// No platform adapters at all; a tenant key alone makes the
	// provider selectable in hybrid mode.
	tenant := freeTenant()
	r, store := setupTestRouter(t, tenant, nil)
	store.cfg = &types.TenantLLMConfig{
		TenantID: tenant.ID,
		Mode:     types.ModeHybrid,
		APIKeys:  map[string]string{"groq": "gsk-tenant"},
	}

	sel, err := r.Select(context.Background(), RouteRequest{
		TenantID: "tenant-1",
		Task:     types.TaskChat,
		Messages: []types.Message{{Role: "user", Content: "bonjour"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "groq", sel.Provider)
}

func TestEstimateMessages(t *testing.T) {
	est := GetEstimator()
	short := est.EstimateMessages([]types.Message{{Role: "user", Content: "salut"}})
	long := est.EstimateMessages([]types.Message{
		{Role: "system", Content: "Tu es un assistant commercial pour une PME française."},
		{Role: "user", Content: "Rédige une relance polie pour une facture impayée de 1200 euros."},
	})
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestCostUSD(t *testing.T) {
	cost := costUSD("gpt-4o", types.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	assert.InDelta(t, 12.50, cost, 1e-9)

	assert.Zero(t, costUSD("unknown-model", types.Usage{PromptTokens: 1000}))
}

func TestTierModels(t *testing.T) {
	free := TierModels(types.TierFree)
	enterprise := TierModels(types.TierEnterprise)
	assert.Contains(t, free, "llama-3.3-70b-versatile")
	assert.NotContains(t, free, "gpt-4o")
	assert.Contains(t, enterprise, "gpt-4o")
	// Higher tiers keep every lower-tier model.
	for _, id := range free {
		assert.Contains(t, enterprise, id)
	}
}
