package openai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/adapters/httpstream"
	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

var _ repositories.TextToSpeech = (*Client)(nil)

// Synthesize opens a streaming speech request. The status and content type
// are checked before returning, the MP3 body is read lazily.
func (c *Client) Synthesize(ctx context.Context, text string) (repositories.AudioStream, error) {
	c.logger.Debug("Requesting speech",
		zap.Int("textLength", len(text)),
		zap.String("voice", string(c.voice)))

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.speechModel,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, providerError("synthesize", err)
	}

	if err := httpstream.ValidateAudioHeader(resp.Header()); err != nil {
		resp.Close()
		return nil, &domain.ProviderError{Provider: providerName, Op: "synthesize", Err: err}
	}

	return httpstream.New(resp, providerName, c.chunkSize), nil
}
