package repositories

import "context"

// TextToSpeech abstracts speech synthesis services
type TextToSpeech interface {
	// Synthesize opens a synthesis stream. The provider response is validated
	// before it returns, the audio body is read through the stream.
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// AudioStream yields synthesized audio in provider order
type AudioStream interface {
	// Next returns the next chunk, or io.EOF once the stream is complete.
	// A read failure is returned as *domain.ProviderError.
	Next() ([]byte, error)
	Close() error
}
