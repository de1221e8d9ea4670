// Package openai implements the transcription, generation and synthesis
// stages on top of the OpenAI API.
package openai

import (
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
)

const (
	providerName = "openai"

	defaultTranscriptionModel = openai.Whisper1
	defaultLanguage           = "en"
	defaultUploadFileName     = "audio.webm"
	defaultChatModel          = openai.GPT4o
	defaultSpeechModel        = openai.TTSModel1
	defaultVoice              = openai.VoiceNova
	defaultChunkSize          = 4096
)

// Config holds configuration shared by the OpenAI adapters
// Required fields:
// - APIKey: OpenAI API key
// Optional fields fall back to the defaults above.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	Language           string
	ChatModel          string
	SystemPrompt       string
	SpeechModel        string
	Voice              string
	ChunkSize          int
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return fmt.Errorf("openai API key is required")
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	return nil
}

// NewConfigFromEnv reads the OpenAI settings from the environment
func NewConfigFromEnv() Config {
	return Config{
		APIKey:       os.Getenv("OPENAI_KEY"),
		BaseURL:      os.Getenv("OPENAI_BASE_URL"),
		ChatModel:    os.Getenv("OPENAI_CHAT_MODEL"),
		SystemPrompt: os.Getenv("OPENAI_SYSTEM_PROMPT"),
		Voice:        os.Getenv("OPENAI_TTS_VOICE"),
	}
}

// Client owns the go-openai client and the resolved settings. It implements
// SpeechToText, LargeLanguageModel and TextToSpeech.
type Client struct {
	client             *openai.Client
	transcriptionModel string
	language           string
	chatModel          string
	systemPrompt       string
	speechModel        openai.SpeechModel
	voice              openai.SpeechVoice
	chunkSize          int
	logger             *zap.Logger
}

// NewClient creates a new OpenAI client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
		logger.Info("Using custom OpenAI base URL", zap.String("baseURL", config.BaseURL))
	}

	c := &Client{
		client:             openai.NewClientWithConfig(clientConfig),
		transcriptionModel: config.TranscriptionModel,
		language:           config.Language,
		chatModel:          config.ChatModel,
		systemPrompt:       config.SystemPrompt,
		speechModel:        openai.SpeechModel(config.SpeechModel),
		voice:              openai.SpeechVoice(config.Voice),
		chunkSize:          config.ChunkSize,
		logger:             logger,
	}

	if c.transcriptionModel == "" {
		c.transcriptionModel = defaultTranscriptionModel
	}
	if c.language == "" {
		c.language = defaultLanguage
	}
	if c.chatModel == "" {
		c.chatModel = defaultChatModel
		logger.Info("Using default chat model", zap.String("chatModel", c.chatModel))
	}
	if c.speechModel == "" {
		c.speechModel = defaultSpeechModel
	}
	if c.voice == "" {
		c.voice = defaultVoice
		logger.Info("Using default voice", zap.String("voice", string(c.voice)))
	}
	if c.chunkSize == 0 {
		c.chunkSize = defaultChunkSize
	}

	return c, nil
}

// providerError converts a go-openai failure into a ProviderError carrying
// the upstream status and message.
func providerError(op string, err error) error {
	providerErr := &domain.ProviderError{Provider: providerName, Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		providerErr.StatusCode = apiErr.HTTPStatusCode
		providerErr.Body = apiErr.Message
	case errors.As(err, &reqErr):
		providerErr.StatusCode = reqErr.HTTPStatusCode
	}

	return providerErr
}
