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
package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/storage"
)

// DefaultSecretKey is the development sealing key. Deployments must
// override SECRET_KEY; tenant BYOK credentials are ciphered under it.
const DefaultSecretKey = "dev-secret-key-change-in-production-minimum-32-chars"

// DefaultAddr is the HTTP listen address when ADDR is unset.
const DefaultAddr = ":8000"

// Settings is the immutable configuration snapshot the platform runs
// on. It is assembled once at startup by LoadSettings and then only
// copied, never mutated.
type Settings struct {
	// DatabaseURL selects the storage backend (sqlite, postgres,
	// mysql). Empty means the storage default.
	DatabaseURL string

	// RedisURL, when set, backs the job queue and event bus with
	// Redis so multiple processes share them. Empty keeps both
	// in-memory, which confines the platform to a single process.
	RedisURL string

	// SecretKey derives the AES key sealing tenant credentials.
	SecretKey string

	// Addr is the HTTP listen address.
	Addr string

	// AllowedOrigins are the CORS origins the HTTP surface accepts.
	AllowedOrigins []string

	// Platform provider API keys. Empty keys leave the provider out
	// of the router.
	OpenAIKey    string
	AnthropicKey string
	GroqKey      string

	// MaxJobs is the worker pool's consumer count. Zero means the
	// worker default.
	MaxJobs int

	// JobTimeout bounds a single queued job. Zero means the worker
	// default.
	JobTimeout time.Duration

	// MaxIterations caps workflow task transitions per execution.
	// Zero means the engine default.
	MaxIterations int

	// Timezone applies to schedules created without one. Empty means
	// the scheduler default, Europe/Paris.
	Timezone string

	// PromptsDir holds the platform's file-shipped prompt templates.
	// Empty disables the file fallback.
	PromptsDir string
}

// LoadSettings reads the snapshot from the process environment.
// Unset variables take their defaults; malformed numeric values are
// startup errors rather than silent fallbacks.
func LoadSettings() (Settings, error) {
	s := Settings{
		DatabaseURL:    envString("DATABASE_URL", storage.DefaultDatabaseURL),
		RedisURL:       envString("REDIS_URL", ""),
		SecretKey:      envString("SECRET_KEY", DefaultSecretKey),
		Addr:           envString("ADDR", DefaultAddr),
		AllowedOrigins: envList("ALLOWED_ORIGINS", defaultAllowedOrigins()),
		OpenAIKey:      envString("OPENAI_API_KEY", ""),
		AnthropicKey:   envString("ANTHROPIC_API_KEY", ""),
		GroqKey:        envString("GROQ_API_KEY", ""),
		Timezone:       envString("TIMEZONE", ""),
		PromptsDir:     envString("PROMPTS_DIR", "./prompts"),
	}

	var err error
	if s.MaxJobs, err = envInt("MAX_JOBS", 0); err != nil {
		return Settings{}, err
	}
	if s.JobTimeout, err = envSeconds("JOB_TIMEOUT", 0); err != nil {
		return Settings{}, err
	}
	if s.MaxIterations, err = envInt("MAX_ITERATIONS", 0); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// normalized fills the fields the composition itself depends on, so
// zero-value Settings built in code work like LoadSettings output.
// Component-level defaults (worker pool size, engine caps, scheduler
// timezone) stay with their components.
func (s Settings) normalized() Settings {
	if s.SecretKey == "" {
		s.SecretKey = DefaultSecretKey
	}
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = defaultAllowedOrigins()
	}
	return s
}

func defaultAllowedOrigins() []string {
	return []string{"http://localhost:3000", "http://localhost:8000"}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// envSeconds accepts either a Go duration ("5m") or a bare number of
// seconds ("300"), the form existing deployments carry.
func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is neither a duration nor seconds", key, v)
	}
	return time.Duration(n) * time.Second, nil
}
