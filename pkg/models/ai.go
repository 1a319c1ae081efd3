package models

import (
	"context"
	"errors"
)

// Sentinel errors every Oracle implementation maps its failures onto.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// Oracle is the code-generation interface every LLM integration implements.
// Never call a specific provider directly; inject this interface.
type Oracle interface {
	// Generate runs one completion over the given conversation turns.
	Generate(ctx context.Context, req GenerationPrompt) (GenerationOutput, error)
	// Name returns the provider identifier (e.g., "anthropic", "gemini").
	Name() string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the conversation sent to the oracle.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationPrompt is the input to an oracle call. Model and MaxTokens default to the
// provider configuration when zero.
type GenerationPrompt struct {
	System    string
	Turns     []Turn
	Model     string
	MaxTokens int
}

// ContentBlock is one block of an oracle response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// GenerationOutput is the raw oracle response.
type GenerationOutput struct {
	Model  string
	Blocks []ContentBlock
}

// FirstText returns the first text block, which the pipeline treats as the code payload.
func (o GenerationOutput) FirstText() (string, bool) {
	for _, b := range o.Blocks {
		if b.Type == "text" {
			return b.Text, true
		}
	}
	return "", false
}
