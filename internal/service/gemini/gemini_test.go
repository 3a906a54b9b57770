package gemini

import (
	"testing"

	"google.golang.org/genai"
)

func response(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestText(t *testing.T) {
	resp := response(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: "Xin "},
		&genai.Part{Text: "chào"},
	)
	if got := Text(resp); got != "Xin chào" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := Text(nil); got != "" {
		t.Fatalf("expected empty text for nil response, got %q", got)
	}
	if got := Text(&genai.GenerateContentResponse{}); got != "" {
		t.Fatalf("expected empty text without candidates, got %q", got)
	}
}

func TestInlineData(t *testing.T) {
	resp := response(
		&genai.Part{Text: "here"},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}}},
	)
	blob, ok := InlineData(resp)
	if !ok || blob.MIMEType != "image/png" {
		t.Fatalf("expected png blob, got %+v", blob)
	}
	if _, ok := InlineData(response(&genai.Part{Text: "no image"})); ok {
		t.Fatalf("expected no blob")
	}
}
