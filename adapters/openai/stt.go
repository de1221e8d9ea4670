package openai

import (
	"bytes"
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

var _ repositories.SpeechToText = (*Client)(nil)

// Transcribe sends the utterance to the transcription endpoint as a single file upload
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	c.logger.Debug("Transcribing audio",
		zap.Int("audioBytes", len(audio)),
		zap.String("model", c.transcriptionModel))

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: defaultUploadFileName,
		Reader:   bytes.NewReader(audio),
		Language: c.language,
	})
	if err != nil {
		return "", providerError("transcribe", err)
	}

	transcript := strings.TrimSpace(resp.Text)
	c.logger.Info("Transcription completed", zap.Int("transcriptLength", len(transcript)))
	return transcript, nil
}
