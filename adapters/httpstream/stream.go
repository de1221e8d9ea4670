// Package httpstream turns a provider's streaming HTTP body into an
// AudioStream that yields fixed-size chunks.
package httpstream

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

// DefaultChunkSize matches the relay buffer used by the audio endpoint
const DefaultChunkSize = 4096

// BodyStream reads an HTTP body in chunkSize pieces. Every chunk but the
// last has exactly chunkSize bytes.
type BodyStream struct {
	body      io.ReadCloser
	provider  string
	chunkSize int
	done      bool
	closeOnce sync.Once
	closeErr  error
}

var _ repositories.AudioStream = (*BodyStream)(nil)

// New wraps body. A chunkSize below one falls back to DefaultChunkSize.
func New(body io.ReadCloser, provider string, chunkSize int) *BodyStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BodyStream{body: body, provider: provider, chunkSize: chunkSize}
}

// Next returns the next chunk or io.EOF
func (s *BodyStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.body, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		return buf[:n], nil
	default:
		s.done = true
		return nil, &domain.ProviderError{
			Provider: s.provider,
			Op:       "stream",
			Err:      fmt.Errorf("failed to read audio body after %d bytes: %w", n, err),
		}
	}
}

// Close releases the body. Safe to call more than once.
func (s *BodyStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// ValidateAudioHeader rejects responses that do not carry audio. A missing
// Content-Type is accepted since some providers omit it on chunked replies.
func ValidateAudioHeader(header http.Header) error {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid content type %q: %w", contentType, err)
	}

	if strings.HasPrefix(mediaType, "audio/") || mediaType == "application/octet-stream" {
		return nil
	}

	return fmt.Errorf("unexpected content type %q", mediaType)
}
