package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/doki/backend/internal/model/chat"
)

// ChainGenerator runs the history through an eino prompt -> chat model chain.
type ChainGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewChainGenerator compiles the chain around any eino chat model (Ark in production).
func NewChainGenerator(ctx context.Context, chatModel model.BaseChatModel) (*ChainGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &ChainGenerator{chain: runnable}, nil
}

// Generate implements Generator.
func (g *ChainGenerator) Generate(ctx context.Context, req Request) (string, error) {
	input := map[string]any{
		"system":  req.SystemInstruction,
		"history": toSchemaMessages(req.History),
	}

	msg, err := g.chain.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithTemperature(req.Sampling.Temperature),
		model.WithTopP(req.Sampling.TopP),
		model.WithMaxTokens(req.Sampling.MaxTokens),
	))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

func toSchemaMessages(history []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RolePersona:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}
