package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

type fakeTransport struct {
	upload     []byte
	readErr    error
	writeErrAt int // 1-based chunk index that fails, 0 for never
	writes     [][]byte
	closes     []Closure
}

func (f *fakeTransport) ReadUtterance(ctx context.Context) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.upload, nil
}

func (f *fakeTransport) WriteChunk(ctx context.Context, chunk []byte) error {
	if f.writeErrAt > 0 && len(f.writes)+1 == f.writeErrAt {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.closes = append(f.closes, Closure{Code: code, Reason: reason})
	return nil
}

type fakeSTT struct {
	transcript string
	err        error
	calls      int
	received   []byte
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.calls++
	f.received = audio
	return f.transcript, f.err
}

type fakeLLM struct {
	reply       string
	err         error
	rejectEmpty bool
	calls       int
	prompts     []string
	maxTokens   int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.maxTokens = maxOutputTokens
	if f.rejectEmpty && prompt == "" {
		return "", &domain.ProviderError{Provider: "fake", Op: "generate", StatusCode: 400, Body: "prompt is empty"}
	}
	return f.reply, f.err
}

type fakeStream struct {
	chunks  [][]byte
	failAt  int // 1-based Next call that fails, 0 for never
	next    int
	closed  bool
	panicAt int
}

func (f *fakeStream) Next() ([]byte, error) {
	f.next++
	if f.panicAt > 0 && f.next == f.panicAt {
		panic("decoder exploded")
	}
	if f.failAt > 0 && f.next == f.failAt {
		return nil, &domain.ProviderError{Provider: "fake", Op: "stream", Err: errors.New("connection reset")}
	}
	if len(f.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeTTS struct {
	stream *fakeStream
	err    error
	calls  int
	texts  []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (repositories.AudioStream, error) {
	f.calls++
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published chan entities.Message
	topics    []string
	err       error
	// When set, Publish blocks until it is closed.
	release chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan entities.Message, 4)}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, messages []entities.Message) ([]entities.Delivery, error) {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	for _, m := range messages {
		f.published <- m
	}
	if f.err != nil {
		return nil, f.err
	}
	return []entities.Delivery{{MessageID: messages[0].ID, Status: entities.DeliveryStatusProduced, Topic: topic, Offset: "1-0"}}, nil
}

type fixture struct {
	transport *fakeTransport
	stt       *fakeSTT
	llm       *fakeLLM
	tts       *fakeTTS
	stream    *fakeStream
	publisher *fakePublisher
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	stream := &fakeStream{chunks: [][]byte{
		bytes.Repeat([]byte{1}, 4096),
		bytes.Repeat([]byte{2}, 4096),
		bytes.Repeat([]byte{3}, 1200),
	}}

	f := &fixture{
		transport: &fakeTransport{upload: []byte("webm-opus-bytes")},
		stt:       &fakeSTT{transcript: "what is the weather"},
		llm:       &fakeLLM{reply: "It is sunny."},
		tts:       &fakeTTS{stream: stream},
		stream:    stream,
		publisher: newFakePublisher(),
	}
	f.service = NewService(f.stt, f.llm, f.tts, f.publisher, Config{MaxOutputTokens: 256}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.service.Wait(ctx); err != nil {
			t.Errorf("Reply publishes did not finish: %v", err)
		}
	})
	return f
}

func (f *fixture) serve() Result {
	return f.service.Serve(context.Background(), "test-session", f.transport)
}

func assertClosedOnce(t *testing.T, transport *fakeTransport, expected Closure) {
	t.Helper()
	if len(transport.closes) != 1 {
		t.Fatalf("Expected exactly one close, got %d", len(transport.closes))
	}
	if transport.closes[0] != expected {
		t.Errorf("Expected close %+v, got %+v", expected, transport.closes[0])
	}
}

func TestSession_SuccessStreamsChunksInOrder(t *testing.T) {
	f := newFixture(t)

	result := f.serve()

	if result.Err != nil {
		t.Fatalf("Expected success, got %v", result.Err)
	}

	expectedSizes := []int{4096, 4096, 1200}
	if len(f.transport.writes) != len(expectedSizes) {
		t.Fatalf("Expected %d frames, got %d", len(expectedSizes), len(f.transport.writes))
	}
	for i, size := range expectedSizes {
		if len(f.transport.writes[i]) != size {
			t.Errorf("Frame %d: expected %d bytes, got %d", i, size, len(f.transport.writes[i]))
		}
		if f.transport.writes[i][0] != byte(i+1) {
			t.Errorf("Frame %d arrived out of order", i)
		}
	}

	assertClosedOnce(t, f.transport, Closure{Code: CodeNormalClosure, Reason: ReasonComplete})

	expectedPath := []State{StateAwaitingUpload, StateTranscribing, StateGenerating, StateSynthesizing, StateStreaming, StateClosed}
	if fmt.Sprint(result.Path) != fmt.Sprint(expectedPath) {
		t.Errorf("Expected path %v, got %v", expectedPath, result.Path)
	}

	if result.ChunksSent != 3 || result.BytesSent != 9392 {
		t.Errorf("Expected 3 chunks / 9392 bytes, got %d / %d", result.ChunksSent, result.BytesSent)
	}

	if !f.stream.closed {
		t.Error("Expected synthesis stream to be closed")
	}
}

func TestSession_StagesAreChained(t *testing.T) {
	f := newFixture(t)

	result := f.serve()

	if string(f.stt.received) != "webm-opus-bytes" {
		t.Errorf("Expected utterance to reach transcription, got %q", f.stt.received)
	}
	if len(f.llm.prompts) != 1 || f.llm.prompts[0] != "what is the weather" {
		t.Errorf("Expected transcript as prompt, got %v", f.llm.prompts)
	}
	if f.llm.maxTokens != 256 {
		t.Errorf("Expected max output tokens 256, got %d", f.llm.maxTokens)
	}
	if len(f.tts.texts) != 1 || f.tts.texts[0] != "It is sunny." {
		t.Errorf("Expected reply as synthesis input, got %v", f.tts.texts)
	}
	if result.Transcript != "what is the weather" || result.Reply != "It is sunny." {
		t.Errorf("Unexpected pipeline result %q / %q", result.Transcript, result.Reply)
	}
}

func TestSession_PublishesReply(t *testing.T) {
	f := newFixture(t)

	f.serve()

	select {
	case message := <-f.publisher.published:
		if message.Content != "It is sunny." {
			t.Errorf("Expected reply to be published, got '%s'", message.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reply publication")
	}

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if len(f.publisher.topics) != 1 || f.publisher.topics[0] != defaultReplyTopic {
		t.Errorf("Expected topic %s, got %v", defaultReplyTopic, f.publisher.topics)
	}
}

func TestService_WaitForPendingPublish(t *testing.T) {
	f := newFixture(t)
	f.publisher.release = make(chan struct{})

	f.serve()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.service.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected Wait to block on the pending publish, got %v", err)
	}

	close(f.publisher.release)
	if err := f.service.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(f.publisher.published) != 1 {
		t.Errorf("Expected the reply to be published before Wait returned, got %d", len(f.publisher.published))
	}
}

func TestSession_PublishFailureDoesNotAffectSession(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("redis unavailable")

	result := f.serve()

	if result.Err != nil {
		t.Errorf("Expected session to succeed despite publish failure, got %v", result.Err)
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeNormalClosure, Reason: ReasonComplete})
}

func TestSession_EmptyUploadRunsNoStage(t *testing.T) {
	f := newFixture(t)
	f.transport.upload = nil

	result := f.serve()

	if result.Kind != domain.KindUpload {
		t.Errorf("Expected upload_error, got %s", result.Kind)
	}
	if !errors.Is(result.Err, domain.ErrEmptyUtterance) {
		t.Errorf("Expected ErrEmptyUtterance, got %v", result.Err)
	}
	if f.stt.calls+f.llm.calls+f.tts.calls != 0 {
		t.Errorf("Expected no adapter calls, got stt=%d llm=%d tts=%d", f.stt.calls, f.llm.calls, f.tts.calls)
	}
	if len(f.transport.writes) != 0 {
		t.Errorf("Expected no frames, got %d", len(f.transport.writes))
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInvalidPayload, Reason: string(domain.KindUpload)})
}

func TestSession_OversizedUploadIsUploadError(t *testing.T) {
	f := newFixture(t)
	f.transport.readErr = fmt.Errorf("%w: limit is 10 bytes", domain.ErrUtteranceTooLarge)

	result := f.serve()

	if result.Kind != domain.KindUpload {
		t.Errorf("Expected upload_error, got %s", result.Kind)
	}
	if f.stt.calls != 0 {
		t.Error("Expected transcription not to run")
	}
}

func TestSession_PeerClosedDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.transport.readErr = fmt.Errorf("%w: code 1000", domain.ErrPeerClosed)

	result := f.serve()

	if result.Err != nil {
		t.Errorf("Expected no error for client close, got %v", result.Err)
	}
	if f.stt.calls != 0 {
		t.Error("Expected no stage to run")
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeNormalClosure, Reason: ReasonClientClosed})

	expectedPath := []State{StateAwaitingUpload, StateClosed}
	if fmt.Sprint(result.Path) != fmt.Sprint(expectedPath) {
		t.Errorf("Expected path %v, got %v", expectedPath, result.Path)
	}
}

func TestSession_TransportErrorDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.transport.readErr = errors.New("unexpected EOF")

	result := f.serve()

	if result.Kind != domain.KindTransport {
		t.Errorf("Expected transport_error, got %s", result.Kind)
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindTransport)})
}

func TestSession_SilenceWithEmptyTranscriptProceeds(t *testing.T) {
	f := newFixture(t)
	f.transport.upload = make([]byte, 50000)
	f.stt.transcript = ""

	result := f.serve()

	if result.Err != nil {
		t.Fatalf("Expected empty transcript to proceed, got %v", result.Err)
	}
	if len(f.llm.prompts) != 1 || f.llm.prompts[0] != "" {
		t.Errorf("Expected generation with empty prompt, got %v", f.llm.prompts)
	}
	if f.tts.calls != 1 {
		t.Errorf("Expected synthesis to run once, got %d", f.tts.calls)
	}
	if len(f.transport.writes) == 0 {
		t.Error("Expected at least one chunk for a successful session")
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeNormalClosure, Reason: ReasonComplete})
}

func TestSession_SilenceRejectedByGeneratorIsProviderError(t *testing.T) {
	f := newFixture(t)
	f.transport.upload = make([]byte, 50000)
	f.stt.transcript = ""
	f.llm.rejectEmpty = true

	result := f.serve()

	if result.Kind != domain.KindProvider {
		t.Errorf("Expected provider_error, got %s", result.Kind)
	}

	var providerErr *domain.ProviderError
	if !errors.As(result.Err, &providerErr) || providerErr.StatusCode != 400 {
		t.Errorf("Expected wrapped ProviderError with status 400, got %v", result.Err)
	}
	if f.tts.calls != 0 {
		t.Error("Expected synthesis not to run")
	}
	if len(f.transport.writes) != 0 {
		t.Errorf("Expected no frames, got %d", len(f.transport.writes))
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindProvider)})
}

func TestSession_StageFailureSendsNoAudio(t *testing.T) {
	providerErr := &domain.ProviderError{Provider: "fake", Op: "stage", StatusCode: 500, Body: "boom"}

	cases := map[string]func(f *fixture){
		"transcription": func(f *fixture) { f.stt.err = providerErr },
		"generation":    func(f *fixture) { f.llm.err = providerErr },
		"synthesis":     func(f *fixture) { f.tts.err = providerErr },
		"first read":    func(f *fixture) { f.stream.failAt = 1 },
	}

	for name, breakStage := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			breakStage(f)

			result := f.serve()

			if result.Kind != domain.KindProvider {
				t.Errorf("Expected provider_error, got %s", result.Kind)
			}
			if len(f.transport.writes) != 0 {
				t.Errorf("Expected no frames, got %d", len(f.transport.writes))
			}
			assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindProvider)})
		})
	}
}

func TestSession_StagesAreNotRetried(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("upstream timeout")

	f.serve()

	if f.stt.calls != 1 || f.llm.calls != 1 {
		t.Errorf("Expected one call per stage, got stt=%d llm=%d", f.stt.calls, f.llm.calls)
	}
}

func TestSession_MidStreamFailureKeepsPrefix(t *testing.T) {
	f := newFixture(t)
	f.stream.failAt = 2

	result := f.serve()

	if result.Kind != domain.KindProvider {
		t.Errorf("Expected provider_error, got %s", result.Kind)
	}
	if len(f.transport.writes) != 1 {
		t.Errorf("Expected the first chunk to have been sent, got %d frames", len(f.transport.writes))
	}
	if f.stream.next != 2 {
		t.Errorf("Expected no read after the failure, got %d reads", f.stream.next)
	}
	if !f.stream.closed {
		t.Error("Expected synthesis stream to be closed")
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindProvider)})
}

func TestSession_WriteFailureIsTransportError(t *testing.T) {
	f := newFixture(t)
	f.transport.writeErrAt = 2

	result := f.serve()

	if result.Kind != domain.KindTransport {
		t.Errorf("Expected transport_error, got %s", result.Kind)
	}
	if result.ChunksSent != 1 {
		t.Errorf("Expected 1 chunk sent before failure, got %d", result.ChunksSent)
	}
	if !f.stream.closed {
		t.Error("Expected synthesis stream to be closed")
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindTransport)})
}

func TestSession_AdapterPanicClosesSession(t *testing.T) {
	f := newFixture(t)
	f.stream.panicAt = 1

	result := f.serve()

	if result.Kind != domain.KindProvider {
		t.Errorf("Expected provider_error, got %s", result.Kind)
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeInternalError, Reason: string(domain.KindProvider)})
}

func TestSession_CancelledContextClosesGoingAway(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.stt.err = context.Canceled

	result := f.service.Serve(ctx, "cancelled", f.transport)

	if result.Err == nil {
		t.Fatal("Expected error for cancelled session")
	}
	assertClosedOnce(t, f.transport, Closure{Code: CodeGoingAway, Reason: ReasonShutdown})
}

func TestState_Transitions(t *testing.T) {
	legal := [][2]State{
		{StateAwaitingUpload, StateTranscribing},
		{StateAwaitingUpload, StateClosed},
		{StateTranscribing, StateGenerating},
		{StateGenerating, StateSynthesizing},
		{StateSynthesizing, StateStreaming},
		{StateStreaming, StateClosed},
	}
	for _, pair := range legal {
		if !pair[0].CanTransitionTo(pair[1]) {
			t.Errorf("Expected %s -> %s to be legal", pair[0], pair[1])
		}
	}

	illegal := [][2]State{
		{StateAwaitingUpload, StateGenerating},
		{StateTranscribing, StateStreaming},
		{StateStreaming, StateTranscribing},
		{StateClosed, StateAwaitingUpload},
	}
	for _, pair := range illegal {
		if pair[0].CanTransitionTo(pair[1]) {
			t.Errorf("Expected %s -> %s to be illegal", pair[0], pair[1])
		}
	}
}

func TestNewService_Defaults(t *testing.T) {
	service := NewService(&fakeSTT{}, &fakeLLM{}, &fakeTTS{}, nil, Config{}, zaptest.NewLogger(t))

	if service.config.MaxOutputTokens != defaultMaxOutputTokens {
		t.Errorf("Expected default max output tokens %d, got %d", defaultMaxOutputTokens, service.config.MaxOutputTokens)
	}
	if service.config.ReplyTopic != defaultReplyTopic {
		t.Errorf("Expected default reply topic %s, got %s", defaultReplyTopic, service.config.ReplyTopic)
	}
}
