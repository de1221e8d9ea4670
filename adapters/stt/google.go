package stt

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	providerName      = "google"
	defaultEncoding   = "WEBM_OPUS"
	defaultSampleRate = 48000
	defaultLanguage   = "en-US"
)

// GoogleConfig holds configuration for the Google Cloud Speech adapter
type GoogleConfig struct {
	CredentialsFile string // Required: service account key path
	Encoding        string // Optional: defaults to WEBM_OPUS
	SampleRate      int    // Optional: defaults to 48000
	Language        string // Optional: defaults to en-US
}

// NewGoogleConfigFromEnv reads the Google Speech settings from the environment
func NewGoogleConfigFromEnv() GoogleConfig {
	config := GoogleConfig{
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Encoding:        os.Getenv("GOOGLE_STT_ENCODING"),
		Language:        os.Getenv("GOOGLE_STT_LANGUAGE"),
	}
	if rate, err := strconv.Atoi(os.Getenv("GOOGLE_STT_SAMPLE_RATE")); err == nil && rate > 0 {
		config.SampleRate = rate
	}
	return config
}

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client *speech.Client
	config *speechpb.RecognitionConfig
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the gRPC client. Credentials are resolved
// here so a bad key fails at startup.
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	if config.CredentialsFile == "" {
		return nil, fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS environment variable is required")
	}

	recognitionConfig, err := buildRecognitionConfig(config)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx, option.WithCredentialsFile(config.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	logger.Info("Google speech client ready",
		zap.String("encoding", recognitionConfig.Encoding.String()),
		zap.Int32("sampleRate", recognitionConfig.SampleRateHertz),
		zap.String("language", recognitionConfig.LanguageCode))

	return &GoogleSpeechToText{
		client: client,
		config: recognitionConfig,
		logger: logger,
	}, nil
}

// Transcribe runs a synchronous recognition over the full utterance and
// joins the best alternative of every result.
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: g.config,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		providerErr := &domain.ProviderError{Provider: providerName, Op: "transcribe", Err: err}
		if st, ok := status.FromError(err); ok {
			providerErr.StatusCode = int(st.Code())
			providerErr.Body = st.Message()
		}
		return "", providerErr
	}

	parts := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			parts = append(parts, strings.TrimSpace(result.Alternatives[0].Transcript))
		}
	}

	transcript := strings.Join(parts, " ")
	g.logger.Info("Transcription completed", zap.Int("transcriptLength", len(transcript)))
	return transcript, nil
}

// Close releases the gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func buildRecognitionConfig(config GoogleConfig) (*speechpb.RecognitionConfig, error) {
	encodingName := config.Encoding
	if encodingName == "" {
		encodingName = defaultEncoding
	}
	encoding, err := getAudioEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	language := config.Language
	if language == "" {
		language = defaultLanguage
	}

	return &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: int32(sampleRate),
		LanguageCode:    language,
	}, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
