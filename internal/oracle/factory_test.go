package oracle_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Anthropic(t *testing.T) {
	cfg := config.AIConfig{
		Provider:  "anthropic",
		MaxTokens: 6000,
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929", BaseURL: "https://api.anthropic.com"},
	}
	p, err := oracle.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestNewProvider_Gemini(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "gemini",
		Gemini:   config.GeminiConfig{APIKey: "gm-test", Model: "gemini-2.5-pro"},
	}
	p, err := oracle.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := oracle.NewProvider(context.Background(), config.AIConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := oracle.NewProvider(context.Background(), config.AIConfig{Provider: "unknown-provider"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProvider_Empty(t *testing.T) {
	_, err := oracle.NewProvider(context.Background(), config.AIConfig{})
	require.Error(t, err)
}
