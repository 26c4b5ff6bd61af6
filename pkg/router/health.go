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
	"sync"
	"time"
)

// maxFailures is the failure count above which a provider is excluded
// from selection until a success resets it.
const maxFailures = 3

// latencyWindow bounds the per-provider latency ring buffer.
const latencyWindow = 100

// providerHealth is the mutable health state of one provider.
type providerHealth struct {
	failures    int
	latencies   []int64
	next        int
	filled      bool
	lastError   string
	lastErrorAt time.Time
}

// Health tracks per-provider failure counts and recent latencies.
// State is per router instance and not persisted.
type Health struct {
	mu        sync.RWMutex
	providers map[string]*providerHealth
}

// NewHealth creates an empty health tracker.
func NewHealth() *Health {
	return &Health{providers: make(map[string]*providerHealth)}
}

func (h *Health) state(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{latencies: make([]int64, latencyWindow)}
		h.providers[provider] = ph
	}
	return ph
}

// RecordSuccess resets the provider's failure count and records the
// call latency.
func (h *Health) RecordSuccess(provider string, latencyMS int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ph := h.state(provider)
	ph.failures = 0
	ph.latencies[ph.next] = latencyMS
	ph.next++
	if ph.next == latencyWindow {
		ph.next = 0
		ph.filled = true
	}
}

// RecordFailure increments the provider's failure count and returns
// the new count.
func (h *Health) RecordFailure(provider string, err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ph := h.state(provider)
	ph.failures++
	if err != nil {
		ph.lastError = err.Error()
		ph.lastErrorAt = time.Now()
	}
	return ph.failures
}

// Healthy reports whether the provider is eligible for selection.
func (h *Health) Healthy(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ph, ok := h.providers[provider]
	if !ok {
		return true
	}
	return ph.failures <= maxFailures
}

// FailureCount returns the provider's current failure count.
func (h *Health) FailureCount(provider string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ph, ok := h.providers[provider]
	if !ok {
		return 0
	}
	return ph.failures
}

// ProviderStats is a read-only health snapshot for one provider.
type ProviderStats struct {
	Healthy      bool      `json:"healthy"`
	FailureCount int       `json:"failure_count"`
	AvgLatencyMS int64     `json:"avg_latency_ms"`
	Samples      int       `json:"samples"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
}

// Snapshot returns health stats for every provider seen so far.
func (h *Health) Snapshot() map[string]ProviderStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ProviderStats, len(h.providers))
	for name, ph := range h.providers {
		n := ph.next
		if ph.filled {
			n = latencyWindow
		}
		var sum int64
		for i := 0; i < n; i++ {
			sum += ph.latencies[i]
		}
		var avg int64
		if n > 0 {
			avg = sum / int64(n)
		}
		out[name] = ProviderStats{
			Healthy:      ph.failures <= maxFailures,
			FailureCount: ph.failures,
			AvgLatencyMS: avg,
			Samples:      n,
			LastError:    ph.lastError,
			LastErrorAt:  ph.lastErrorAt,
		}
	}
	return out
}
