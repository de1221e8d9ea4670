package stt

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap/zaptest"
)

func TestNewGoogleSpeechToText_RequiresCredentials(t *testing.T) {
	_, err := NewGoogleSpeechToText(context.Background(), GoogleConfig{}, zaptest.NewLogger(t))
	if err == nil {
		t.Error("Expected error when credentials are not set")
	}
}

func TestBuildRecognitionConfig_Defaults(t *testing.T) {
	config, err := buildRecognitionConfig(GoogleConfig{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Encoding != speechpb.RecognitionConfig_WEBM_OPUS {
		t.Errorf("Expected WEBM_OPUS, got %s", config.Encoding)
	}
	if config.SampleRateHertz != defaultSampleRate {
		t.Errorf("Expected sample rate %d, got %d", defaultSampleRate, config.SampleRateHertz)
	}
	if config.LanguageCode != defaultLanguage {
		t.Errorf("Expected language %s, got %s", defaultLanguage, config.LanguageCode)
	}
}

func TestBuildRecognitionConfig_UnsupportedEncoding(t *testing.T) {
	if _, err := buildRecognitionConfig(GoogleConfig{Encoding: "AAC"}); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestNewGoogleConfigFromEnv(t *testing.T) {
	os.Setenv("GOOGLE_STT_SAMPLE_RATE", "16000")
	os.Setenv("GOOGLE_STT_ENCODING", "ogg_opus")
	defer os.Unsetenv("GOOGLE_STT_SAMPLE_RATE")
	defer os.Unsetenv("GOOGLE_STT_ENCODING")

	config := NewGoogleConfigFromEnv()
	if config.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", config.SampleRate)
	}

	recognitionConfig, err := buildRecognitionConfig(config)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if recognitionConfig.Encoding != speechpb.RecognitionConfig_OGG_OPUS {
		t.Errorf("Expected OGG_OPUS, got %s", recognitionConfig.Encoding)
	}
}

func TestGoogleSpeechToText_Integration(t *testing.T) {
	config := NewGoogleConfigFromEnv()
	if config.CredentialsFile == "" || os.Getenv("GOOGLE_STT_SAMPLE_FILE") == "" {
		t.Skip("Skipping integration test: GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_STT_SAMPLE_FILE not set")
	}

	audio, err := os.ReadFile(os.Getenv("GOOGLE_STT_SAMPLE_FILE"))
	if err != nil {
		t.Fatalf("Failed to read sample: %v", err)
	}

	stt, err := NewGoogleSpeechToText(context.Background(), config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer stt.Close()

	if _, err := stt.Transcribe(context.Background(), audio); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
}
