// Package gemini holds the pieces shared by every request sent through the genai SDK.
package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// Models is the subset of *genai.Models the services call.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Text joins the non-thought text parts of the first candidate.
func Text(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, part := range firstParts(resp) {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// InlineData returns the first inline blob of the first candidate.
func InlineData(resp *genai.GenerateContentResponse) (*genai.Blob, bool) {
	for _, part := range firstParts(resp) {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, true
		}
	}
	return nil, false
}

func firstParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	return candidate.Content.Parts
}
