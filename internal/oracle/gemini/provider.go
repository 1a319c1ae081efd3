package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/vdogen/internal/config"
	"github.com/kiranshivaraju/vdogen/pkg/models"
	"google.golang.org/genai"
)

// Gemini names the assistant role "model".
const (
	roleUser  = "user"
	roleModel = "model"
)

// Provider implements models.Oracle using the Gemini API.
type Provider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewProvider(ctx context.Context, cfg config.GeminiConfig, maxTokens int) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model, maxTokens: maxTokens}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Generate(ctx context.Context, req models.GenerationPrompt) (models.GenerationOutput, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	genCfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, toContents(req.Turns), genCfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.GenerationOutput{}, fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
		}
		return models.GenerationOutput{}, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	return toOutput(model, resp)
}

func toContents(turns []models.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := roleUser
		if t.Role == models.RoleAssistant {
			role = roleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}
	return contents
}

// toOutput flattens the first candidate into a single text block.
func toOutput(model string, resp *genai.GenerateContentResponse) (models.GenerationOutput, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return models.GenerationOutput{}, fmt.Errorf("%w: no candidates", models.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return models.GenerationOutput{}, fmt.Errorf("%w: blocked by safety filters", models.ErrInvalidResponse)
	}
	if cand.Content == nil {
		return models.GenerationOutput{}, fmt.Errorf("%w: empty candidate", models.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return models.GenerationOutput{}, fmt.Errorf("%w: no text in candidate", models.ErrInvalidResponse)
	}

	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return models.GenerationOutput{
		Model:  model,
		Blocks: []models.ContentBlock{{Type: "text", Text: sb.String()}},
	}, nil
}

var _ models.Oracle = (*Provider)(nil)
