package gemini

import (
	"testing"

	"github.com/kiranshivaraju/vdogen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToContents_MapsAssistantToModel(t *testing.T) {
	contents := toContents([]models.Turn{
		{Role: models.RoleUser, Content: "seed"},
		{Role: models.RoleAssistant, Content: "from manim import *"},
		{Role: models.RoleUser, Content: "make it blue"},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "from manim import *", contents[1].Parts[0].Text)
	assert.Equal(t, "user", contents[2].Role)
}

func TestToOutput_JoinsParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		ModelVersion: "gemini-2.5-pro-001",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "from manim "}, {Text: "import *"}}},
		}},
	}

	out, err := toOutput("gemini-2.5-pro", resp)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro-001", out.Model)
	text, ok := out.FirstText()
	require.True(t, ok)
	assert.Equal(t, "from manim import *", text)
}

func TestToOutput_Invalid(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"nil response", nil},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}},
		{"safety block", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonSafety,
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "x"}}},
		}}}},
		{"no text", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{}}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toOutput("gemini-2.5-pro", tt.resp)
			assert.ErrorIs(t, err, models.ErrInvalidResponse)
		})
	}
}
