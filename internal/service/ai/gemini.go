package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
	"github.com/zhouzirui/doki/backend/internal/service/gemini"
)

// GeminiGenerator sends the history to a Gemini text model.
type GeminiGenerator struct {
	models gemini.Models
	model  string
}

// NewGeminiGenerator binds a generator to a model name.
func NewGeminiGenerator(models gemini.Models, model string) *GeminiGenerator {
	return &GeminiGenerator{models: models, model: model}
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, toContents(req.History), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(req.Sampling.Temperature),
		TopP:              genai.Ptr(req.Sampling.TopP),
		MaxOutputTokens:   int32(req.Sampling.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return gemini.Text(resp), nil
}

func toContents(history []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RolePersona {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
