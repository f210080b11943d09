package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mleone/profile-chatbot/backend/internal/config"
	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
	"github.com/mleone/profile-chatbot/backend/internal/model/profile"
)

// historyLimit bounds how many stored turns feed each model call.
const historyLimit = 20

// Usage reports the token consumption of one generation as the
// provider accounted it. Zero when the provider omitted usage metadata.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Service generates profile-persona responses through an eino chain.
type Service struct {
	chatModel model.ChatModel
	profile   profile.Profile
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt-template chain over the configured
// chat model.
func NewService(ctx context.Context, prof profile.Profile, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		profile:   prof,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether SSE streaming is configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateResponse produces a reply grounded in the profile and the
// session's recent transcript, and reports the provider's token usage.
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (string, Usage, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, userMessage))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	usage := usageFromMessage(response)
	log.Printf("[ai] generated response for session=%s length=%d tokens=%d", sessionID, len(response.Content), usage.TotalTokens)
	return response.Content, usage, nil
}

// StreamResponse streams reply chunks through the chain.
func (s *Service) StreamResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

// UsageFromMessage extracts provider usage from a (possibly
// concatenated) response message.
func UsageFromMessage(msg *schema.Message) Usage {
	return usageFromMessage(msg)
}

func usageFromMessage(msg *schema.Message) Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := msg.ResponseMeta.Usage
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (s *Service) buildChainInput(history []chat.Message, userMessage string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(s.profile),
		"history": s.buildHistoryMessages(history),
		"query":   userMessage,
	}
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case "user":
			history = append(history, schema.UserMessage(msg.Content))
		case "assistant":
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
