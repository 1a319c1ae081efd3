// Package oracle selects the code-generation model behind the pipeline.
package oracle

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/internal/oracle/anthropic"
	"github.com/kiranshivaraju/vdogen/internal/oracle/gemini"
	"github.com/kiranshivaraju/vdogen/internal/oracle/mock"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// NewProvider constructs the appropriate oracle based on config.
// Called once at worker startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.Oracle, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.MaxTokens, cfg.InferenceTimeout), nil
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini, cfg.MaxTokens)
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of anthropic, gemini, mock", cfg.Provider)
	}
}
