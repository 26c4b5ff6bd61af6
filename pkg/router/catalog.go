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
// Package router selects a concrete (provider, model) pair for each
// request, enforces tenant tiers and token budgets, tracks provider
// health, and records usage.
package router

import "github.com/atelierhq/atelier/pkg/types"

// Requirement is the per-task requirement vector, each axis 1-5
// (higher = more demanding; MinCost = how cheap the model must be).
type Requirement struct {
	Speed      int
	Reasoning  int
	Creativity int
	MinCost    int
}

// taskRequirements maps each task type to its requirement vector.
var taskRequirements = map[types.TaskType]Requirement{
	types.TaskChat:      {Speed: 3, Reasoning: 3, Creativity: 3, MinCost: 3},
	types.TaskCode:      {Speed: 2, Reasoning: 5, Creativity: 2, MinCost: 2},
	types.TaskQuick:     {Speed: 5, Reasoning: 2, Creativity: 2, MinCost: 5},
	types.TaskSummarize: {Speed: 3, Reasoning: 3, Creativity: 2, MinCost: 4},
	types.TaskAnalyze:   {Speed: 2, Reasoning: 5, Creativity: 2, MinCost: 2},
	types.TaskWriting:   {Speed: 2, Reasoning: 3, Creativity: 5, MinCost: 3},
	types.TaskEmail:     {Speed: 3, Reasoning: 3, Creativity: 4, MinCost: 4},
	types.TaskPlanning:  {Speed: 2, Reasoning: 5, Creativity: 3, MinCost: 2},
	types.TaskDecision:  {Speed: 3, Reasoning: 5, Creativity: 2, MinCost: 3},
	types.TaskExtract:   {Speed: 4, Reasoning: 3, Creativity: 1, MinCost: 4},
	types.TaskTranslate: {Speed: 4, Reasoning: 3, Creativity: 2, MinCost: 4},
	types.TaskClassify:  {Speed: 5, Reasoning: 2, Creativity: 1, MinCost: 5},
}

// qualityAlpha returns the reasoning weight in the quality blend for
// the task; creativity gets the complement.
func qualityAlpha(task types.TaskType) float64 {
	switch task {
	case types.TaskCode, types.TaskAnalyze, types.TaskPlanning, types.TaskDecision:
		return 0.7
	case types.TaskWriting, types.TaskEmail:
		return 0.3
	default:
		return 0.5
	}
}

// ModelInfo is one catalog entry. Capability axes are 1-5; for Cost,
// higher means cheaper. Prices are USD per million tokens.
type ModelInfo struct {
	ID         string
	Provider   string
	Tier       types.Tier
	Reasoning  int
	Creativity int
	Speed      int
	Cost       int

	PriceInput  float64
	PriceOutput float64
}

// catalog lists every routable model, grouped by the tier that first
// grants access. Order within a tier is the tie-break preference.
var catalog = []ModelInfo{
	// free
	{ID: "llama-3.3-70b-versatile", Provider: "groq", Tier: types.TierFree,
		Reasoning: 4, Creativity: 3, Speed: 5, Cost: 5, PriceInput: 0.59, PriceOutput: 0.79},
	{ID: "llama-3.1-8b-instant", Provider: "groq", Tier: types.TierFree,
		Reasoning: 2, Creativity: 2, Speed: 5, Cost: 5, PriceInput: 0.05, PriceOutput: 0.08},
	{ID: "mixtral-8x7b-32768", Provider: "groq", Tier: types.TierFree,
		Reasoning: 3, Creativity: 3, Speed: 4, Cost: 5, PriceInput: 0.24, PriceOutput: 0.24},
	{ID: "gemma2-9b-it", Provider: "groq", Tier: types.TierFree,
		Reasoning: 2, Creativity: 3, Speed: 5, Cost: 5, PriceInput: 0.20, PriceOutput: 0.20},

	// standard
	{ID: "gpt-4o-mini", Provider: "openai", Tier: types.TierStandard,
		Reasoning: 3, Creativity: 4, Speed: 4, Cost: 5, PriceInput: 0.15, PriceOutput: 0.60},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", Tier: types.TierStandard,
		Reasoning: 3, Creativity: 3, Speed: 4, Cost: 4, PriceInput: 0.80, PriceOutput: 4.00},

	// professional
	{ID: "gpt-4o", Provider: "openai", Tier: types.TierProfessional,
		Reasoning: 5, Creativity: 4, Speed: 3, Cost: 2, PriceInput: 2.50, PriceOutput: 10.00},
	{ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", Tier: types.TierProfessional,
		Reasoning: 5, Creativity: 5, Speed: 3, Cost: 2, PriceInput: 3.00, PriceOutput: 15.00},

	// enterprise
	{ID: "gpt-4-turbo", Provider: "openai", Tier: types.TierEnterprise,
		Reasoning: 5, Creativity: 4, Speed: 2, Cost: 1, PriceInput: 10.00, PriceOutput: 30.00},
	{ID: "claude-3-opus-20240229", Provider: "anthropic", Tier: types.TierEnterprise,
		Reasoning: 5, Creativity: 5, Speed: 1, Cost: 1, PriceInput: 15.00, PriceOutput: 75.00},
}

// ModelByID looks up a catalog entry.
func ModelByID(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// TierModels returns the model identifiers a tenant at the given tier
// may use, in catalog order.
func TierModels(tier types.Tier) []string {
	var ids []string
	for _, m := range catalog {
		if tier.Includes(m.Tier) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// KnownTaskType reports whether the router has a requirement vector
// for the task type.
func KnownTaskType(task types.TaskType) bool {
	_, ok := taskRequirements[task]
	return ok
}

// costUSD prices a completion from the catalog. Unknown models cost 0.
func costUSD(model string, usage types.Usage) float64 {
	info, ok := ModelByID(model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*info.PriceInput +
		float64(usage.CompletionTokens)/1e6*info.PriceOutput
}
