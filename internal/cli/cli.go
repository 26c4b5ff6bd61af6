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

// Package cli holds the configuration and logging plumbing the
// daemons share. Sources stack flags > config file > ATELIER_*
// variables > bare environment > built-ins; secrets still missing
// after all of those are taken from the system keyring.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/core"
)

// KeyringService namespaces the platform's keyring entries.
const KeyringService = "atelier"

// Logging selects the daemon's log output.
type Logging struct {
	Level  string
	Format string // json or console
}

// Config is one loaded configuration: the platform snapshot plus the
// command-level logging choices and, when found, the file they came
// from.
type Config struct {
	Settings core.Settings
	Logging  Logging
	File     string
}

// Flags registers the shared daemon flags on cmd.
func Flags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file (default: ./atelier.yaml, /etc/atelier/atelier.yaml)")
	f.String("addr", "", "HTTP listen address")
	f.String("db", "", "database URL (sqlite://, postgres://, mysql://)")
	f.String("redis-url", "", "Redis URL backing the queue and event bus")
	f.Int("max-jobs", 0, "concurrent worker jobs")
	f.Duration("job-timeout", 0, "per-job execution timeout")
	f.String("prompts-dir", "", "directory of default prompt templates")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, console)")
}

// Load assembles the configuration for cmd. The bare-environment
// snapshot forms the floor; an optional YAML file, ATELIER_-prefixed
// variables, and changed flags override it in that order.
func Load(cmd *cobra.Command) (*Config, error) {
	snap, err := core.LoadSettings()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, snap)

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("atelier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/atelier/")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	jobTimeout, err := parseTimeout(v.GetString("worker.job_timeout"))
	if err != nil {
		return nil, fmt.Errorf("worker.job_timeout: %w", err)
	}

	cfg := &Config{
		Settings: core.Settings{
			DatabaseURL:    v.GetString("database.url"),
			RedisURL:       v.GetString("redis.url"),
			SecretKey:      v.GetString("security.secret_key"),
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
			OpenAIKey:      v.GetString("llm.openai_api_key"),
			AnthropicKey:   v.GetString("llm.anthropic_api_key"),
			GroqKey:        v.GetString("llm.groq_api_key"),
			MaxJobs:        v.GetInt("worker.max_jobs"),
			JobTimeout:     jobTimeout,
			MaxIterations:  v.GetInt("workflow.max_iterations"),
			Timezone:       v.GetString("scheduler.timezone"),
			PromptsDir:     v.GetString("prompts.dir"),
		},
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		File: v.ConfigFileUsed(),
	}

	fillSecretsFromKeyring(&cfg.Settings)
	return cfg, nil
}

// setDefaults seats the bare-environment snapshot under every key so
// the other sources only have to override what they change.
func setDefaults(v *viper.Viper, snap core.Settings) {
	v.SetDefault("database.url", snap.DatabaseURL)
	v.SetDefault("redis.url", snap.RedisURL)
	v.SetDefault("security.secret_key", snap.SecretKey)
	v.SetDefault("server.addr", snap.Addr)
	v.SetDefault("cors.allowed_origins", snap.AllowedOrigins)
	v.SetDefault("llm.openai_api_key", snap.OpenAIKey)
	v.SetDefault("llm.anthropic_api_key", snap.AnthropicKey)
	v.SetDefault("llm.groq_api_key", snap.GroqKey)
	v.SetDefault("worker.max_jobs", snap.MaxJobs)
	if snap.JobTimeout > 0 {
		v.SetDefault("worker.job_timeout", snap.JobTimeout.String())
	} else {
		v.SetDefault("worker.job_timeout", "")
	}
	v.SetDefault("workflow.max_iterations", snap.MaxIterations)
	v.SetDefault("scheduler.timezone", snap.Timezone)
	v.SetDefault("prompts.dir", snap.PromptsDir)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"server.addr":        "addr",
		"database.url":       "db",
		"redis.url":          "redis-url",
		"worker.max_jobs":    "max-jobs",
		"worker.job_timeout": "job-timeout",
		"prompts.dir":        "prompts-dir",
		"logging.level":      "log-level",
		"logging.format":     "log-format",
	}
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		// Only changed flags override; their empty defaults must not
		// mask the other sources.
		if !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// parseTimeout accepts a Go duration ("5m") or bare seconds ("300").
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a duration nor seconds", raw)
	}
	return time.Duration(n) * time.Second, nil
}

// BuildLogger constructs the daemon logger from l.
func BuildLogger(l Logging) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(l.Format) {
	case "", "json":
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q (json, console)", l.Format)
	}

	level := zap.InfoLevel
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// secretMapping connects one keyring entry to its Settings field.
type secretMapping struct {
	key   string
	set   func(*core.Settings, string)
	isSet func(*core.Settings) bool
}

func secretMappings() []secretMapping {
	return []secretMapping{
		{
			key: "secret_key",
			set: func(s *core.Settings, v string) { s.SecretKey = v },
			// The development default counts as unset so a keyring
			// entry can replace it.
			isSet: func(s *core.Settings) bool {
				return s.SecretKey != "" && s.SecretKey != core.DefaultSecretKey
			},
		},
		{
			key:   "openai_api_key",
			set:   func(s *core.Settings, v string) { s.OpenAIKey = v },
			isSet: func(s *core.Settings) bool { return s.OpenAIKey != "" },
		},
		{
			key:   "anthropic_api_key",
			set:   func(s *core.Settings, v string) { s.AnthropicKey = v },
			isSet: func(s *core.Settings) bool { return s.AnthropicKey != "" },
		},
		{
			key:   "groq_api_key",
			set:   func(s *core.Settings, v string) { s.GroqKey = v },
			isSet: func(s *core.Settings) bool { return s.GroqKey != "" },
		},
	}
}

// fillSecretsFromKeyring loads each unset secret from the keyring.
// Keyring access is best effort; an absent backend just leaves the
// settings as they are.
func fillSecretsFromKeyring(s *core.Settings) {
	for _, m := range secretMappings() {
		if m.isSet(s) {
			continue
		}
		if v, err := keyring.Get(KeyringService, m.key); err == nil && v != "" {
			m.set(s, v)
		}
	}
}

// SecretKeys lists the names SaveSecret accepts.
func SecretKeys() []string {
	mappings := secretMappings()
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.key
	}
	return keys
}

// SaveSecret stores a named secret in the system keyring.
func SaveSecret(key, value string) error {
	if !validSecretKey(key) {
		return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(SecretKeys(), ", "))
	}
	return keyring.Set(KeyringService, key, value)
}

// DeleteSecret removes a named secret from the system keyring.
func DeleteSecret(key string) error {
	if !validSecretKey(key) {
		return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(SecretKeys(), ", "))
	}
	return keyring.Delete(KeyringService, key)
}

func validSecretKey(key string) bool {
	for _, k := range SecretKeys() {
		if k == key {
			return true
		}
	}
	return false
}
