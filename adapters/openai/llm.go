package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

var _ repositories.LargeLanguageModel = (*Client)(nil)

// Generate asks the chat model for a reply to prompt
func (c *Client) Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	if maxOutputTokens <= 0 {
		return "", &domain.ProviderError{
			Provider: providerName,
			Op:       "generate",
			Err:      fmt.Errorf("max output tokens must be positive, got %d", maxOutputTokens),
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.chatModel,
		Messages:  messages,
		MaxTokens: maxOutputTokens,
	})
	if err != nil {
		return "", providerError("generate", err)
	}

	if len(resp.Choices) == 0 {
		return "", &domain.ProviderError{
			Provider: providerName,
			Op:       "generate",
			Err:      fmt.Errorf("no choices in response"),
		}
	}

	reply := resp.Choices[0].Message.Content
	c.logger.Info("Generation completed",
		zap.String("model", resp.Model),
		zap.Int("completionTokens", resp.Usage.CompletionTokens),
		zap.Int("replyLength", len(reply)))
	return reply, nil
}
