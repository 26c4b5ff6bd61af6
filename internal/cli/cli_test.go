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
package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/pkg/core"
	"github.com/atelierhq/atelier/pkg/storage"
)

// clearEnv blanks every variable the configuration chain reads and
// swaps the keyring for an empty in-memory one, so neither the
// ambient environment nor the developer's keyring leaks into
// assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	vars := []string{
		"DATABASE_URL", "REDIS_URL", "SECRET_KEY", "ADDR", "ALLOWED_ORIGINS",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GROQ_API_KEY",
		"MAX_JOBS", "JOB_TIMEOUT", "MAX_ITERATIONS", "TIMEZONE", "PROMPTS_DIR",
		"ATELIER_SERVER_ADDR", "ATELIER_DATABASE_URL", "ATELIER_REDIS_URL",
		"ATELIER_WORKER_MAX_JOBS", "ATELIER_WORKER_JOB_TIMEOUT",
		"ATELIER_LOGGING_LEVEL", "ATELIER_LOGGING_FORMAT",
	}
	for _, key := range vars {
		t.Setenv(key, "")
	}
}

// loadWith runs Load the way the daemons do: inside a cobra command
// with args parsed.
func loadWith(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var loadErr error
	cmd := &cobra.Command{
		Use: "test",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, loadErr = Load(c)
			return nil
		},
	}
	Flags(cmd)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	require.NoError(t, cmd.Execute())
	return cfg, loadErr
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atelier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(t)
	require.NoError(t, err)

	assert.Equal(t, storage.DefaultDatabaseURL, cfg.Settings.DatabaseURL)
	assert.Equal(t, core.DefaultAddr, cfg.Settings.Addr)
	assert.Equal(t, core.DefaultSecretKey, cfg.Settings.SecretKey)
	assert.Zero(t, cfg.Settings.MaxJobs)
	assert.Zero(t, cfg.Settings.JobTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.File)
}

func TestLoadBareEnvironmentFloor(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://app@db/atelier")
	t.Setenv("MAX_JOBS", "4")

	cfg, err := loadWith(t)
	require.NoError(t, err)

	assert.Equal(t, "postgres://app@db/atelier", cfg.Settings.DatabaseURL)
	assert.Equal(t, 4, cfg.Settings.MaxJobs)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
server:
  addr: ":9000"
worker:
  max_jobs: 8
  job_timeout: "120"
scheduler:
  timezone: Europe/Berlin
logging:
  level: debug
  format: console
`)

	cfg, err := loadWith(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Settings.Addr)
	assert.Equal(t, 8, cfg.Settings.MaxJobs)
	assert.Equal(t, 2*time.Minute, cfg.Settings.JobTimeout)
	assert.Equal(t, "Europe/Berlin", cfg.Settings.Timezone)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, path, cfg.File)
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":7000")
	path := writeConfigFile(t, "server:\n  addr: \":8000\"\n")

	cfg, err := loadWith(t, "--config", path, "--addr", ":6000", "--job-timeout", "90s")
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Settings.Addr)
	assert.Equal(t, 90*time.Second, cfg.Settings.JobTimeout)
}

func TestPrefixedEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATELIER_SERVER_ADDR", ":5000")
	path := writeConfigFile(t, "server:\n  addr: \":8000\"\n")

	cfg, err := loadWith(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Settings.Addr)
}

func TestLoadRejectsMalformedTimeout(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, "worker:\n  job_timeout: \"soon\"\n")

	_, err := loadWith(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_timeout")
}

func TestKeyringFillsMissingSecrets(t *testing.T) {
	clearEnv(t)
	require.NoError(t, SaveSecret("groq_api_key", "gsk-from-keyring"))
	require.NoError(t, SaveSecret("secret_key", "sealed-from-keyring"))

	cfg, err := loadWith(t)
	require.NoError(t, err)

	assert.Equal(t, "gsk-from-keyring", cfg.Settings.GroqKey)
	// The development default yields to the keyring entry.
	assert.Equal(t, "sealed-from-keyring", cfg.Settings.SecretKey)
}

func TestKeyringDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	require.NoError(t, SaveSecret("groq_api_key", "gsk-from-keyring"))
	t.Setenv("GROQ_API_KEY", "gsk-from-env")

	cfg, err := loadWith(t)
	require.NoError(t, err)

	assert.Equal(t, "gsk-from-env", cfg.Settings.GroqKey)
}

func TestSaveSecretRejectsUnknownNames(t *testing.T) {
	keyring.MockInit()
	err := SaveSecret("stripe_key", "sk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown secret")

	assert.Error(t, DeleteSecret("stripe_key"))
	assert.Contains(t, SecretKeys(), "secret_key")
	assert.Contains(t, SecretKeys(), "groq_api_key")
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger(Logging{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	console, err := BuildLogger(Logging{Format: "console"})
	require.NoError(t, err)
	assert.False(t, console.Core().Enabled(zap.DebugLevel))

	_, err = BuildLogger(Logging{Level: "shouting"})
	require.Error(t, err)

	_, err = BuildLogger(Logging{Format: "xml"})
	require.Error(t, err)
}
