package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// Provider implements models.Oracle using the Anthropic Messages API.
type Provider struct {
	cfg       config.AnthropicConfig
	maxTokens int
	client    anthropic.Client
}

// NewProvider builds a client for cfg. The client does not retry: a failed call fails
// the video, and the caller's context bounds the whole call.
func NewProvider(cfg config.AnthropicConfig, maxTokens int, timeout time.Duration) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Provider{
		cfg:       cfg,
		maxTokens: maxTokens,
		client:    anthropic.NewClient(opts...),
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Generate(ctx context.Context, req models.GenerationPrompt) (models.GenerationOutput, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessages(req.Turns),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.GenerationOutput{}, classifyError(err)
	}
	if len(msg.Content) == 0 {
		return models.GenerationOutput{}, fmt.Errorf("%w: empty content", models.ErrInvalidResponse)
	}

	blocks := make([]models.ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, models.ContentBlock{Type: b.Type, Text: b.Text})
	}
	return models.GenerationOutput{Model: string(msg.Model), Blocks: blocks}, nil
}

func toMessages(turns []models.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

// classifyError maps client errors to sentinel errors. Overload and server errors are
// reported as unavailability; any other API error means the request itself was
// rejected, and an unreadable body is an invalid response.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d: %v", models.ErrProviderUnavailable, apiErr.StatusCode, err)
		}
		return fmt.Errorf("%w: status %d: %v", models.ErrInvalidResponse, apiErr.StatusCode, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
}

var _ models.Oracle = (*Provider)(nil)
