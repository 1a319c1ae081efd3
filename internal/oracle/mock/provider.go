package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// SampleScene is the script NewMockProvider answers with.
const SampleScene = "```python\nfrom manim import *\n\nclass GenScene(Scene):\n    def construct(self):\n        self.play(Create(Circle()))\n```"

// MockProvider satisfies models.Oracle for testing and local runs. It records every
// prompt it receives.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerationPrompt) (models.GenerationOutput, error)

	mu      sync.Mutex
	prompts []models.GenerationPrompt
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.GenerationPrompt) (models.GenerationOutput, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerationOutput{}, nil
}

// Prompts returns a copy of the prompts received so far.
func (m *MockProvider) Prompts() []models.GenerationPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GenerationPrompt(nil), m.prompts...)
}

// TextOutput wraps text in a single text block.
func TextOutput(text string) models.GenerationOutput {
	return models.GenerationOutput{
		Model:  "mock-v1",
		Blocks: []models.ContentBlock{{Type: "text", Text: text}},
	}
}

// NewMockProvider returns a MockProvider that always answers with SampleScene.
func NewMockProvider() *MockProvider {
	return NewTextProvider(SampleScene)
}

// NewTextProvider returns a MockProvider that always answers with text.
func NewTextProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ models.GenerationPrompt) (models.GenerationOutput, error) {
			return TextOutput(text), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerationPrompt) (models.GenerationOutput, error) {
			return models.GenerationOutput{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerationPrompt) (models.GenerationOutput, error) {
			<-ctx.Done()
			return models.GenerationOutput{}, models.ErrInferenceTimeout
		},
	}
}

var _ models.Oracle = (*MockProvider)(nil)
