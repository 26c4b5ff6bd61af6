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
// Package factory constructs LLM providers from configuration.
package factory

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/anthropic"
	"github.com/atelierhq/atelier/pkg/llm/groq"
	"github.com/atelierhq/atelier/pkg/llm/openai"
	"github.com/atelierhq/atelier/pkg/types"
)

// Config describes the provider to construct. Provider is required;
// zero-valued fields fall back to the provider package defaults.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	Endpoint    string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	RateLimiter llm.RateLimiterConfig
}

// New constructs the provider named by cfg.Provider.
func New(cfg Config) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Endpoint:          cfg.Endpoint,
			Timeout:           cfg.Timeout,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       cfg.Temperature,
			RateLimiterConfig: cfg.RateLimiter,
		}), nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Endpoint:          cfg.Endpoint,
			Timeout:           cfg.Timeout,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       cfg.Temperature,
			RateLimiterConfig: cfg.RateLimiter,
		}), nil
	case "groq":
		return groq.NewClient(groq.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Endpoint:          cfg.Endpoint,
			Timeout:           cfg.Timeout,
			MaxTokens:         cfg.MaxTokens,
			Temperature:       cfg.Temperature,
			RateLimiterConfig: cfg.RateLimiter,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: %s)",
			types.ErrConfig, cfg.Provider, strings.Join(SupportedProviders(), ", "))
	}
}

// SupportedProviders lists the provider names New accepts.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "groq"}
}

// envKeys maps provider names to the environment variables holding
// their platform API keys.
var envKeys = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
}

// FromEnv constructs every provider whose API key is set in the
// environment. Providers without keys are skipped.
func FromEnv(rateLimiter llm.RateLimiterConfig) map[string]llm.Provider {
	providers := make(map[string]llm.Provider)
	for _, name := range SupportedProviders() {
		key := os.Getenv(envKeys[name])
		if key == "" {
			continue
		}
		provider, err := New(Config{Provider: name, APIKey: key, RateLimiter: rateLimiter})
		if err != nil {
			continue
		}
		providers[name] = provider
	}
	return providers
}
