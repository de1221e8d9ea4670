package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	providerName     = "gemini"
	defaultModelName = "gemini-2.0-flash"
)

// GeminiConfig holds configuration for the Gemini adapter
type GeminiConfig struct {
	APIKey       string // Required
	Model        string // Optional: defaults to gemini-2.0-flash
	SystemPrompt string // Optional
}

// NewGeminiConfigFromEnv reads the Gemini settings from the environment
func NewGeminiConfigFromEnv() GeminiConfig {
	return GeminiConfig{
		APIKey:       os.Getenv("GEMINI_API_KEY"),
		Model:        os.Getenv("GEMINI_MODEL"),
		SystemPrompt: os.Getenv("GEMINI_SYSTEM_PROMPT"),
	}
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client       *genai.Client
	logger       *zap.Logger
	model        string
	systemPrompt string
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModelName
		logger.Info("Using default model", zap.String("model", model))
	}

	return &GeminiLLM{
		client:       client,
		logger:       logger,
		model:        model,
		systemPrompt: config.SystemPrompt,
	}, nil
}

// Generate sends a single-turn prompt and concatenates the text parts of the first candidate
func (g *GeminiLLM) Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	if maxOutputTokens <= 0 {
		return "", &domain.ProviderError{
			Provider: providerName,
			Op:       "generate",
			Err:      fmt.Errorf("max output tokens must be positive, got %d", maxOutputTokens),
		}
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxOutputTokens),
	}
	if g.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(g.systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", geminiError(err)
	}

	text := responseText(response)
	if text == "" {
		return "", &domain.ProviderError{
			Provider: providerName,
			Op:       "generate",
			Err:      fmt.Errorf("no content generated"),
		}
	}

	g.logger.Info("Generation completed",
		zap.String("model", g.model),
		zap.Int("replyLength", len(text)))
	return text, nil
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func geminiError(err error) error {
	providerErr := &domain.ProviderError{Provider: providerName, Op: "generate", Err: err}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		providerErr.StatusCode = apiErr.Code
		providerErr.Body = apiErr.Message
	case errors.As(err, &apiErrPtr):
		providerErr.StatusCode = apiErrPtr.Code
		providerErr.Body = apiErrPtr.Message
	}

	return providerErr
}
