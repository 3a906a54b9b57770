package ai

import (
	"context"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
)

// Sampling holds the fixed decoding parameters of a reply.
type Sampling struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Request is one text-generation call.
type Request struct {
	SystemInstruction string
	History           []chat.Message
	Sampling          Sampling
}

// Generator produces a reply from a role-tagged history. An empty string with a nil
// error means the backend answered with nothing usable.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
