package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultMaxOutputTokens = 256
	defaultReplyTopic      = "LLMResponseGenerated"
	defaultPublishTimeout  = 5 * time.Second
)

// Transport is the connection a session reads its upload from and streams
// audio back over.
type Transport interface {
	ReadUtterance(ctx context.Context) ([]byte, error)
	WriteChunk(ctx context.Context, chunk []byte) error
	Close(code int, reason string) error
}

// Config holds per-deployment session settings
type Config struct {
	MaxOutputTokens int
	ReplyTopic      string
	PublishTimeout  time.Duration
}

// Service runs sessions against one set of stage adapters
type Service struct {
	stt       repositories.SpeechToText
	llm       repositories.LargeLanguageModel
	tts       repositories.TextToSpeech
	publisher repositories.MessagePublisher
	config    Config
	logger    *zap.Logger

	publishes sync.WaitGroup
}

// NewService creates a session service. publisher may be nil, in which case
// replies are not published.
func NewService(
	stt repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	publisher repositories.MessagePublisher,
	config Config,
	logger *zap.Logger,
) *Service {
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = defaultMaxOutputTokens
	}
	if config.ReplyTopic == "" {
		config.ReplyTopic = defaultReplyTopic
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}

	return &Service{
		stt:       stt,
		llm:       llm,
		tts:       tts,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// Wait blocks until every reply publish started by Serve has finished or ctx
// ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result summarizes a finished session
type Result struct {
	SessionID  string
	Closure    Closure
	Kind       domain.Kind
	Err        error
	Transcript string
	Reply      string
	ChunksSent int
	BytesSent  int
	Path       []State
	Duration   time.Duration
}

// Serve drives one session from upload to close. The transport is always
// closed when Serve returns.
func (s *Service) Serve(ctx context.Context, sessionID string, transport Transport) Result {
	sess := &Session{
		id:        sessionID,
		state:     StateAwaitingUpload,
		path:      []State{StateAwaitingUpload},
		transport: transport,
		service:   s,
		logger:    s.logger.With(zap.String("sessionID", sessionID)),
		startedAt: time.Now(),
	}
	return sess.run(ctx)
}

// Session is the state machine for one connection
type Session struct {
	id        string
	state     State
	path      []State
	transport Transport
	service   *Service
	logger    *zap.Logger
	startedAt time.Time

	utterance entities.Utterance
	result    entities.PipelineResult
	stream    repositories.AudioStream

	closure    Closure
	kind       domain.Kind
	err        error
	chunksSent int
	bytesSent  int
}

func (s *Session) run(ctx context.Context) Result {
	s.logger.Info("Session started")

	for s.state != StateClosed {
		next := s.step(ctx)
		s.transition(ctx, next)
	}

	return Result{
		SessionID:  s.id,
		Closure:    s.closure,
		Kind:       s.kind,
		Err:        s.err,
		Transcript: s.result.Transcript,
		Reply:      s.result.Reply,
		ChunksSent: s.chunksSent,
		BytesSent:  s.bytesSent,
		Path:       s.path,
		Duration:   time.Since(s.startedAt),
	}
}

// step runs the work of the current state and returns the next state.
// Panics are converted into a failure of the stage that raised them.
func (s *Session) step(ctx context.Context) (next State) {
	defer func() {
		if r := recover(); r != nil {
			kind := domain.KindProvider
			if s.state == StateAwaitingUpload {
				kind = domain.KindTransport
			}
			s.fail(ctx, kind, fmt.Errorf("panic while %s: %v", s.state, r))
			next = StateClosed
		}
	}()

	switch s.state {
	case StateAwaitingUpload:
		return s.awaitUpload(ctx)
	case StateTranscribing:
		return s.transcribe(ctx)
	case StateGenerating:
		return s.generate(ctx)
	case StateSynthesizing:
		return s.synthesize(ctx)
	case StateStreaming:
		return s.relay(ctx)
	default:
		s.fail(ctx, domain.KindTransport, fmt.Errorf("no work defined for state %s", s.state))
		return StateClosed
	}
}

func (s *Session) transition(ctx context.Context, next State) {
	if !s.state.CanTransitionTo(next) {
		s.logger.Error("Refusing illegal transition",
			zap.String("from", string(s.state)),
			zap.String("to", string(next)))
		s.fail(ctx, domain.KindTransport, fmt.Errorf("illegal transition %s -> %s", s.state, next))
		next = StateClosed
	}

	s.logger.Debug("Session transition",
		zap.String("from", string(s.state)),
		zap.String("to", string(next)))

	s.state = next
	s.path = append(s.path, next)

	if next == StateClosed {
		s.close()
	}
}

// fail records the first failure of the session and the close frame it maps to
func (s *Session) fail(ctx context.Context, kind domain.Kind, err error) {
	if s.err != nil {
		return
	}

	s.kind = kind
	s.err = domain.NewSessionError(kind, err)
	s.closure = closureFor(kind)
	if ctx.Err() != nil {
		s.closure = Closure{Code: CodeGoingAway, Reason: ReasonShutdown}
	}

	s.logger.Warn("Session failed",
		zap.String("state", string(s.state)),
		zap.String("kind", string(kind)),
		zap.Error(err))
}

func (s *Session) awaitUpload(ctx context.Context) State {
	data, err := s.transport.ReadUtterance(ctx)
	switch {
	case errors.Is(err, domain.ErrPeerClosed):
		s.closure = Closure{Code: CodeNormalClosure, Reason: ReasonClientClosed}
		s.logger.Info("Client closed before upload completed", zap.Error(err))
		return StateClosed
	case err != nil:
		s.fail(ctx, domain.KindOf(err), err)
		return StateClosed
	}

	s.utterance = entities.NewUtterance(data)
	if s.utterance.IsEmpty() {
		s.fail(ctx, domain.KindUpload, domain.ErrEmptyUtterance)
		return StateClosed
	}

	s.logger.Info("Upload received", zap.Int("audioBytes", len(data)))
	return StateTranscribing
}

func (s *Session) transcribe(ctx context.Context) State {
	transcript, err := s.service.stt.Transcribe(ctx, s.utterance.Audio)
	if err != nil {
		s.fail(ctx, domain.KindProvider, fmt.Errorf("transcription failed: %w", err))
		return StateClosed
	}

	s.result.Transcript = transcript
	if !s.result.HasSpeech() {
		s.logger.Info("Transcript is empty, continuing with empty prompt")
	}
	return StateGenerating
}

func (s *Session) generate(ctx context.Context) State {
	reply, err := s.service.llm.Generate(ctx, s.result.Transcript, s.service.config.MaxOutputTokens)
	if err != nil {
		s.fail(ctx, domain.KindProvider, fmt.Errorf("generation failed: %w", err))
		return StateClosed
	}

	s.result.Reply = reply
	s.publishReply(ctx, reply)
	return StateSynthesizing
}

func (s *Session) synthesize(ctx context.Context) State {
	stream, err := s.service.tts.Synthesize(ctx, s.result.Reply)
	if err != nil {
		s.fail(ctx, domain.KindProvider, fmt.Errorf("synthesis failed: %w", err))
		return StateClosed
	}

	s.stream = stream
	return StateStreaming
}

// relay copies one chunk at a time from the synthesis stream to the
// transport. A slow client blocks the provider read.
func (s *Session) relay(ctx context.Context) State {
	for {
		chunk, err := s.stream.Next()
		if errors.Is(err, io.EOF) {
			s.closure = Closure{Code: CodeNormalClosure, Reason: ReasonComplete}
			s.logger.Info("Session completed",
				zap.Int("chunksSent", s.chunksSent),
				zap.Int("bytesSent", s.bytesSent))
			return StateClosed
		}
		if err != nil {
			s.fail(ctx, domain.KindProvider, fmt.Errorf("synthesis stream failed after %d chunks: %w", s.chunksSent, err))
			return StateClosed
		}
		if len(chunk) == 0 {
			continue
		}

		if err := s.transport.WriteChunk(ctx, chunk); err != nil {
			s.fail(ctx, domain.KindTransport, fmt.Errorf("relay failed after %d chunks: %w", s.chunksSent, err))
			return StateClosed
		}

		s.chunksSent++
		s.bytesSent += len(chunk)
		s.logger.Debug("Relayed audio chunk",
			zap.Int("chunkNumber", s.chunksSent),
			zap.Int("chunkSize", len(chunk)))
	}
}

func (s *Session) close() {
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("Failed to close synthesis stream", zap.Error(err))
		}
	}

	if err := s.transport.Close(s.closure.Code, s.closure.Reason); err != nil {
		s.logger.Debug("Transport close reported error", zap.Error(err))
	}

	s.logger.Info("Session closed",
		zap.Int("code", s.closure.Code),
		zap.String("reason", s.closure.Reason),
		zap.Duration("duration", time.Since(s.startedAt)))
}

// publishReply sends the reply to the bus without waiting for the result
func (s *Session) publishReply(ctx context.Context, reply string) {
	publisher := s.service.publisher
	if publisher == nil {
		return
	}

	topic := s.service.config.ReplyTopic
	message := entities.NewMessage(reply)
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.service.config.PublishTimeout)

	s.service.publishes.Add(1)
	go func() {
		defer s.service.publishes.Done()
		defer cancel()
		deliveries, err := publisher.Publish(publishCtx, topic, []entities.Message{message})
		if err != nil {
			s.logger.Warn("Failed to publish reply", zap.String("topic", topic), zap.Error(err))
			return
		}
		for _, delivery := range deliveries {
			s.logger.Debug("Reply published",
				zap.String("topic", delivery.Topic),
				zap.String("offset", delivery.Offset))
		}
	}()
}
