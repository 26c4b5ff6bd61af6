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
package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/types"
)

// RateLimiterConfig configures client-side request pacing toward one provider.
type RateLimiterConfig struct {
	// Enabled turns pacing on. Disabled limiters pass calls through.
	Enabled bool

	// RequestsPerSecond is the bucket refill rate. Default: 5.
	RequestsPerSecond float64

	// BurstCapacity is the bucket size. Default: 10.
	BurstCapacity int

	// MinDelay is the minimum spacing between requests. Default: 0.
	MinDelay time.Duration

	// Logger for throttle events.
	Logger *zap.Logger
}

// RateLimiter paces outbound requests with a token bucket. One limiter is
// shared by all clients of the same provider.
type RateLimiter struct {
	config     RateLimiterConfig
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	lastCall   time.Time
}

// NewRateLimiter creates a rate limiter from config, applying defaults.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 10
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		maxTokens:  float64(config.BurstCapacity),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a request slot is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || !rl.config.Enabled {
		return nil
	}
	for {
		wait := rl.reserve()
		if wait <= 0 {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return TransportError("ratelimiter", ctx.Err())
		}
	}
}

// reserve takes a token if available, otherwise returns how long to wait.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = minFloat(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.config.MinDelay > 0 {
		if since := now.Sub(rl.lastCall); since < rl.config.MinDelay {
			return rl.config.MinDelay - since
		}
	}

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		rl.lastCall = now
		return 0
	}

	// Time until one token refills.
	deficit := 1.0 - rl.tokens
	return time.Duration(deficit / rl.refillRate * float64(time.Second))
}

// Do runs call under the limiter, retrying once after a pause when the
// provider answers 429. Other failures surface unchanged; fallback across
// providers is the router's job.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	err := call(ctx)
	if err == nil || !errors.Is(err, types.ErrRateLimit) {
		return err
	}
	if rl != nil && rl.config.Enabled {
		rl.config.Logger.Warn("provider throttled, retrying once", zap.Error(err))
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return TransportError("ratelimiter", ctx.Err())
	}
	if werr := rl.Wait(ctx); werr != nil {
		return werr
	}
	return call(ctx)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
