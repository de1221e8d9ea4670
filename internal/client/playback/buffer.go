// Package playback feeds received audio chunks to a decoder in arrival order.
//
// A Buffer is an actor: every request and every decoder event goes through
// one mailbox and is handled by the Run goroutine, which owns all state.
// Each Begin starts a new generation. Chunks and events tagged with an older
// generation are discarded.
package playback

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned by synchronous requests after Run has returned
var ErrStopped = errors.New("playback buffer stopped")

// Generation identifies one playback session
type Generation uint64

// Events is how a decoder reports progress back to the buffer. Methods may be
// called from any goroutine, including from inside Decoder.Append.
type Events interface {
	// Opened reports the decoder can accept its first chunk
	Opened()
	// Ready reports the last appended chunk has been consumed
	Ready()
	// Playing reports audio output has started
	Playing()
	// Ended reports audio output has finished
	Ended()
	// Failed reports the decoder can no longer be used
	Failed(err error)
}

// Decoder consumes encoded audio. Append must not block on playback; it
// signals completion with Events.Ready.
type Decoder interface {
	Append(chunk []byte)
	EndOfStream()
	Close() error
}

// DecoderFactory creates a fresh decoder bound to events
type DecoderFactory func(events Events) (Decoder, error)

// Status is a snapshot of the buffer state
type Status struct {
	Generation  Generation
	Queued      int
	Busy        bool
	Initialized bool
	Finalized   bool
	Talking     bool
	Failed      bool
}

// Buffer orders chunks for a decoder that is only intermittently ready
type Buffer struct {
	mailbox   *mailbox
	factory   DecoderFactory
	onTalking func(talking bool)
	logger    *zap.Logger
	stopped   chan struct{}

	// Owned by the Run goroutine.
	gen         Generation
	decoder     Decoder
	queue       [][]byte
	busy        bool
	initialized bool
	pendingEnd  bool
	finalized   bool
	talking     bool
	failed      bool
}

// NewBuffer creates a buffer. onTalking may be nil; it is called from the Run
// goroutine whenever the talking state changes.
func NewBuffer(factory DecoderFactory, onTalking func(talking bool), logger *zap.Logger) *Buffer {
	return &Buffer{
		mailbox:   newMailbox(),
		factory:   factory,
		onTalking: onTalking,
		logger:    logger,
		stopped:   make(chan struct{}),
	}
}

// Run handles the mailbox until ctx is cancelled, then tears down the
// current decoder.
func (b *Buffer) Run(ctx context.Context) {
	defer close(b.stopped)
	defer b.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.mailbox.signal:
			for _, fn := range b.mailbox.drain() {
				fn()
			}
		}
	}
}

// Begin tears down the current session and opens a decoder for a new
// generation. Chunks for the returned generation are queued until the
// decoder reports Opened.
func (b *Buffer) Begin() (Generation, error) {
	type reply struct {
		gen Generation
		err error
	}
	ch := make(chan reply, 1)
	b.mailbox.post(func() {
		gen, err := b.begin()
		ch <- reply{gen, err}
	})

	select {
	case r := <-ch:
		return r.gen, r.err
	case <-b.stopped:
		return 0, ErrStopped
	}
}

// Push hands a received chunk to the buffer
func (b *Buffer) Push(gen Generation, chunk []byte) {
	b.mailbox.post(func() { b.push(gen, chunk) })
}

// Finish marks the end of the stream for gen. The decoder is told once every
// queued chunk has been consumed.
func (b *Buffer) Finish(gen Generation) {
	b.mailbox.post(func() { b.finish(gen) })
}

// Teardown closes the current decoder and drops its queue
func (b *Buffer) Teardown() {
	done := make(chan struct{})
	b.mailbox.post(func() {
		b.teardown()
		close(done)
	})

	select {
	case <-done:
	case <-b.stopped:
	}
}

// Status returns a snapshot of the buffer state
func (b *Buffer) Status() (Status, error) {
	ch := make(chan Status, 1)
	b.mailbox.post(func() {
		ch <- Status{
			Generation:  b.gen,
			Queued:      len(b.queue),
			Busy:        b.busy,
			Initialized: b.initialized,
			Finalized:   b.finalized,
			Talking:     b.talking,
			Failed:      b.failed,
		}
	})

	select {
	case s := <-ch:
		return s, nil
	case <-b.stopped:
		return Status{}, ErrStopped
	}
}

func (b *Buffer) begin() (Generation, error) {
	b.teardown()
	b.gen++
	b.failed = false

	decoder, err := b.factory(&generationEvents{gen: b.gen, buffer: b})
	if err != nil {
		b.failed = true
		b.logger.Error("Failed to create decoder", zap.Uint64("generation", uint64(b.gen)), zap.Error(err))
		return b.gen, err
	}

	b.decoder = decoder
	b.logger.Debug("Playback session started", zap.Uint64("generation", uint64(b.gen)))
	return b.gen, nil
}

// current reports whether gen is the live generation with an open decoder
func (b *Buffer) current(gen Generation) bool {
	return gen == b.gen && b.decoder != nil
}

func (b *Buffer) push(gen Generation, chunk []byte) {
	if !b.current(gen) {
		b.logger.Debug("Discarding stale chunk",
			zap.Uint64("generation", uint64(gen)),
			zap.Uint64("currentGeneration", uint64(b.gen)),
			zap.Int("size", len(chunk)))
		return
	}

	if b.finalized || b.pendingEnd {
		b.logger.Debug("Discarding chunk after end of stream",
			zap.Uint64("generation", uint64(gen)),
			zap.Int("size", len(chunk)))
		return
	}

	if !b.initialized || b.busy {
		b.queue = append(b.queue, chunk)
		return
	}

	b.append(chunk)
}

func (b *Buffer) append(chunk []byte) {
	b.busy = true
	b.decoder.Append(chunk)
}

func (b *Buffer) opened(gen Generation) {
	if !b.current(gen) {
		return
	}
	b.initialized = true
	b.drain()
}

func (b *Buffer) ready(gen Generation) {
	if !b.current(gen) {
		return
	}
	b.busy = false
	b.drain()
}

// drain appends the oldest queued chunk when the decoder is free, and runs a
// deferred end of stream once nothing is left.
func (b *Buffer) drain() {
	if !b.initialized || b.busy {
		return
	}

	if len(b.queue) > 0 {
		chunk := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.append(chunk)
		return
	}

	if b.pendingEnd {
		b.endOfStream()
	}
}

func (b *Buffer) finish(gen Generation) {
	if !b.current(gen) || b.finalized {
		return
	}
	b.pendingEnd = true
	b.drain()
}

func (b *Buffer) endOfStream() {
	b.pendingEnd = false
	b.finalized = true
	b.decoder.EndOfStream()
}

func (b *Buffer) playing(gen Generation) {
	if !b.current(gen) {
		return
	}
	b.setTalking(true)
}

func (b *Buffer) ended(gen Generation) {
	if !b.current(gen) {
		return
	}
	b.setTalking(false)
}

func (b *Buffer) fail(gen Generation, err error) {
	if !b.current(gen) {
		return
	}
	b.logger.Error("Decoder failed", zap.Uint64("generation", uint64(gen)), zap.Error(err))
	b.teardown()
	b.failed = true
}

func (b *Buffer) setTalking(talking bool) {
	if b.talking == talking {
		return
	}
	b.talking = talking
	if b.onTalking != nil {
		b.onTalking(talking)
	}
}

func (b *Buffer) teardown() {
	if b.decoder != nil {
		if err := b.decoder.Close(); err != nil {
			b.logger.Warn("Failed to close decoder", zap.Error(err))
		}
	}

	b.decoder = nil
	b.queue = nil
	b.busy = false
	b.initialized = false
	b.pendingEnd = false
	b.finalized = false
	b.setTalking(false)
}

// generationEvents tags decoder events with the generation they belong to
type generationEvents struct {
	gen    Generation
	buffer *Buffer
}

func (e *generationEvents) Opened() {
	e.buffer.mailbox.post(func() { e.buffer.opened(e.gen) })
}

func (e *generationEvents) Ready() {
	e.buffer.mailbox.post(func() { e.buffer.ready(e.gen) })
}

func (e *generationEvents) Playing() {
	e.buffer.mailbox.post(func() { e.buffer.playing(e.gen) })
}

func (e *generationEvents) Ended() {
	e.buffer.mailbox.post(func() { e.buffer.ended(e.gen) })
}

func (e *generationEvents) Failed(err error) {
	e.buffer.mailbox.post(func() { e.buffer.fail(e.gen, err) })
}

// mailbox is an unbounded FIFO so that decoders may post events from inside
// Append without deadlocking the Run goroutine.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
