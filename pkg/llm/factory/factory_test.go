package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		provider     string
		expectedName string
		wantErr      bool
	}{
		{name: "openai", provider: "openai", expectedName: "openai"},
		{name: "anthropic", provider: "anthropic", expectedName: "anthropic"},
		{name: "groq", provider: "groq", expectedName: "groq"},
		{name: "case insensitive", provider: "OpenAI", expectedName: "openai"},
		{name: "trims whitespace", provider: " groq ", expectedName: "groq"},
		{name: "unknown provider", provider: "mistral", wantErr: true},
		{name: "empty provider", provider: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := New(Config{Provider: tt.provider, APIKey: "test-key"})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, provider.Name())
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	providers := FromEnv(llm.RateLimiterConfig{})
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "groq")
	assert.NotContains(t, providers, "anthropic")
}

func TestSupportedProviders(t *testing.T) {
	assert.ElementsMatch(t, []string{"openai", "anthropic", "groq"}, SupportedProviders())
}
