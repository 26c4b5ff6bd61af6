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
	"fmt"

	"github.com/atelierhq/atelier/pkg/types"
)

// Default scoring weights for cost, speed, and quality.
const (
	defaultCostWeight    = 0.3
	defaultSpeedWeight   = 0.3
	defaultQualityWeight = 0.4

	// preferenceBoost multiplies the boosted axis before weights are
	// renormalized to sum to 1.
	preferenceBoost = 1.5
)

// Preferences bias model selection for one request.
type Preferences struct {
	PreferSpeed   bool
	PreferQuality bool

	// Model forces a specific catalog model; it must still pass the
	// tier gate and restriction lists.
	Model string
}

// Selection is the outcome of model selection.
type Selection struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Reason   string  `json:"reason"`
	Score    float64 `json:"score"`
}

// weights is the renormalized scoring weight vector.
type weights struct {
	cost, speed, quality float64
}

func weightsFor(prefs Preferences) weights {
	w := weights{cost: defaultCostWeight, speed: defaultSpeedWeight, quality: defaultQualityWeight}
	if prefs.PreferSpeed {
		w.speed *= preferenceBoost
	}
	if prefs.PreferQuality {
		w.quality *= preferenceBoost
	}
	sum := w.cost + w.speed + w.quality
	w.cost /= sum
	w.speed /= sum
	w.quality /= sum
	return w
}

// scoreModel scores one candidate against the task requirement.
// Models below a required axis keep that term at half value rather
// than being excluded.
func scoreModel(m ModelInfo, req Requirement, w weights, alpha float64) float64 {
	costPenalty := 1.0
	if m.Cost < req.MinCost {
		costPenalty = 0.5
	}
	speedPenalty := 1.0
	if m.Speed < req.Speed {
		speedPenalty = 0.5
	}

	costTerm := w.cost * float64(m.Cost) * costPenalty
	speedTerm := w.speed * float64(m.Speed) * speedPenalty

	quality := clampRatio(float64(m.Reasoning)/float64(req.Reasoning))*alpha +
		clampRatio(float64(m.Creativity)/float64(req.Creativity))*(1-alpha)
	qualityTerm := w.quality * quality * 5

	return costTerm + speedTerm + qualityTerm
}

// clampRatio caps a capability/requirement ratio so over-provisioned
// models do not dominate on a single axis.
func clampRatio(r float64) float64 {
	if r > 1.5 {
		return 1.5
	}
	return r
}

// Candidates returns the catalog entries a tenant at the given tier
// may use, restricted to available providers and the config's
// allow/block lists. Catalog order is preserved.
func Candidates(tier types.Tier, available map[string]bool, cfg *types.TenantLLMConfig) []ModelInfo {
	var allowed map[string]bool
	blocked := make(map[string]bool)
	preferredProvider := ""
	if cfg != nil {
		if len(cfg.AllowedModels) > 0 {
			allowed = make(map[string]bool, len(cfg.AllowedModels))
			for _, id := range cfg.AllowedModels {
				allowed[id] = true
			}
		}
		for _, id := range cfg.BlockedModels {
			blocked[id] = true
		}
		preferredProvider = cfg.PreferredProvider
	}

	var out []ModelInfo
	for _, m := range catalog {
		if !tier.Includes(m.Tier) {
			continue
		}
		if !available[m.Provider] {
			continue
		}
		if allowed != nil && !allowed[m.ID] {
			continue
		}
		if blocked[m.ID] {
			continue
		}
		out = append(out, m)
	}

	// The preferred provider is a soft hint: restrict to it only when
	// it still leaves candidates.
	if preferredProvider != "" {
		var preferred []ModelInfo
		for _, m := range out {
			if m.Provider == preferredProvider {
				preferred = append(preferred, m)
			}
		}
		if len(preferred) > 0 {
			return preferred
		}
	}
	return out
}

// SelectModel picks the best (provider, model) for the task at the
// tier. It is a pure function of its inputs: identical arguments
// always yield an identical selection.
func SelectModel(task types.TaskType, tier types.Tier, prefs Preferences, available map[string]bool, cfg *types.TenantLLMConfig) (Selection, error) {
	if task == "" {
		task = types.TaskChat
	}
	req, ok := taskRequirements[task]
	if !ok {
		return Selection{}, fmt.Errorf("%w: unknown task type %q", types.ErrConfig, task)
	}

	candidates := Candidates(tier, available, cfg)

	if prefs.Model != "" {
		for _, m := range candidates {
			if m.ID == prefs.Model {
				return Selection{Provider: m.Provider, Model: m.ID, Reason: "Requested model"}, nil
			}
		}
		return Selection{}, fmt.Errorf("%w: %q not available at tier %s", types.ErrInvalidModel, prefs.Model, tier)
	}

	if cfg != nil && cfg.PreferredModel != "" {
		for _, m := range candidates {
			if m.ID == cfg.PreferredModel {
				return Selection{Provider: m.Provider, Model: m.ID, Reason: "Preferred model"}, nil
			}
		}
	}

	if len(candidates) == 0 {
		// Every gated model is unavailable; fall back to the first
		// catalog model on any healthy provider, ignoring the tier.
		for _, m := range catalog {
			if available[m.Provider] {
				return Selection{Provider: m.Provider, Model: m.ID, Reason: "Fallback"}, nil
			}
		}
		return Selection{}, fmt.Errorf("%w: no healthy provider available", types.ErrUpstream)
	}

	w := weightsFor(prefs)
	alpha := qualityAlpha(task)

	best := candidates[0]
	bestScore := scoreModel(best, req, w, alpha)
	for _, m := range candidates[1:] {
		score := scoreModel(m, req, w, alpha)
		if score > bestScore || (score == bestScore && m.Tier.Level() < best.Tier.Level()) {
			best = m
			bestScore = score
		}
	}

	return Selection{
		Provider: best.Provider,
		Model:    best.ID,
		Reason:   fmt.Sprintf("Best score for %s", task),
		Score:    bestScore,
	}, nil
}
