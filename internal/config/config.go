// Package config loads server and consumer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/satriahrh/voicerelay/adapters/llm"
	"github.com/satriahrh/voicerelay/adapters/openai"
	"github.com/satriahrh/voicerelay/adapters/stt"
	"github.com/satriahrh/voicerelay/adapters/tts"
	"github.com/satriahrh/voicerelay/internal/websocket"
)

// Provider names accepted by STT_PROVIDER, LLM_PROVIDER and TTS_PROVIDER
const (
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
)

// ErrMissingCredentials is returned when a selected provider has no credential
var ErrMissingCredentials = errors.New("missing credentials")

// RedisConfig holds bus connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	MaxLen   int64
}

// Config is the full runtime configuration
type Config struct {
	Port string

	STTProvider string
	LLMProvider string
	TTSProvider string

	OpenAI     openai.Config
	Gemini     llm.GeminiConfig
	Google     stt.GoogleConfig
	ElevenLabs tts.ElevenLabsConfig

	MaxOutputTokens int
	MaxUploadBytes  int64

	Redis         RedisConfig
	MessageTopic  string
	ReplyTopic    string
	ConsumerGroup string
	ConsumerName  string

	MongoURI      string
	MongoDatabase string
}

// Load reads .env (when present) and the process environment and validates
// the provider settings the server needs.
func Load() (*Config, error) {
	config := read()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadBus reads the configuration without requiring provider credentials.
// The consumer only talks to the bus and the archive.
func LoadBus() *Config {
	return read()
}

func read() *Config {
	// A missing .env file is fine
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "voicerelay-consumer"
	}

	return &Config{
		Port: getEnv("PORT", "5000"),

		STTProvider: strings.ToLower(getEnv("STT_PROVIDER", ProviderOpenAI)),
		LLMProvider: strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		TTSProvider: strings.ToLower(getEnv("TTS_PROVIDER", ProviderOpenAI)),

		OpenAI:     openai.NewConfigFromEnv(),
		Gemini:     llm.NewGeminiConfigFromEnv(),
		Google:     stt.NewGoogleConfigFromEnv(),
		ElevenLabs: tts.NewElevenLabsConfigFromEnv(),

		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 256),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", websocket.DefaultMaxUploadBytes)),

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			MaxLen:   int64(getEnvInt("REDIS_STREAM_MAXLEN", 0)),
		},
		MessageTopic:  getEnv("MESSAGE_TOPIC", "messages"),
		ReplyTopic:    getEnv("REPLY_TOPIC", "LLMResponseGenerated"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "voicerelay"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostname),

		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: os.Getenv("MONGODB_DATABASE"),
	}
}

// Validate checks provider selection and that each selected provider has
// its credential.
func (c *Config) Validate() error {
	var missing []string

	switch c.STTProvider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_KEY")
		}
	case ProviderGoogle:
		if c.Google.CredentialsFile == "" {
			missing = append(missing, "GOOGLE_APPLICATION_CREDENTIALS")
		}
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.STTProvider)
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_KEY")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.TTSProvider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_KEY")
		}
	case ProviderElevenLabs:
		if c.ElevenLabs.APIKey == "" {
			missing = append(missing, "ELEVEN_LABS_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(dedupe(missing), ", "))
	}

	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("MAX_OUTPUT_TOKENS must be positive, got %d", c.MaxOutputTokens)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
