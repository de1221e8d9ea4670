package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// Transcribe converts one complete utterance to text. A provider failure
	// is returned as *domain.ProviderError.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
