// Package capture turns one press-to-talk recording into one utterance.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
)

// State is the capture lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

var (
	// ErrEmptyRecording is returned by Stop when the recorder produced no audio
	ErrEmptyRecording = errors.New("recording is empty")
	// ErrInvalidState is returned when an operation is not allowed in the current state
	ErrInvalidState = errors.New("invalid capture state")
)

// Recorder produces encoded audio chunks from an input device
type Recorder interface {
	// Start begins recording. onChunk may be called from any goroutine.
	Start(ctx context.Context, onChunk func(chunk []byte)) error
	// Stop releases the device and returns once every chunk was delivered
	Stop() error
}

// Sender submits one utterance on a fresh connection
type Sender interface {
	Send(ctx context.Context, utterance entities.Utterance) error
}

// Capture is the press-to-talk state machine
type Capture struct {
	recorder Recorder
	sender   Sender
	onState  func(State)
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	chunks [][]byte
}

// New creates a capture in the idle state. onState may be nil.
func New(recorder Recorder, sender Sender, onState func(State), logger *zap.Logger) *Capture {
	return &Capture{
		recorder: recorder,
		sender:   sender,
		onState:  onState,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current state
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the recorder. Nothing is sent until Stop.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, state)
	}
	c.chunks = nil
	c.state = StateRecording
	c.mu.Unlock()
	c.notify(StateRecording)

	if err := c.recorder.Start(ctx, c.collect); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	c.logger.Debug("Recording started")
	return nil
}

// Stop ends the recording and sends the utterance. It returns once the send
// has been issued, not when a reply arrives.
func (c *Capture) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, state)
	}
	c.state = StateFinalizing
	c.mu.Unlock()
	c.notify(StateFinalizing)

	defer c.setState(StateIdle)

	// Chunks delivered while the recorder drains are still collected
	stopErr := c.recorder.Stop()

	c.mu.Lock()
	audio := bytes.Join(c.chunks, nil)
	c.chunks = nil
	c.mu.Unlock()

	if stopErr != nil {
		return fmt.Errorf("failed to stop recorder: %w", stopErr)
	}

	utterance := entities.NewUtterance(audio)
	if utterance.IsEmpty() {
		c.logger.Info("Recording produced no audio, nothing sent")
		return ErrEmptyRecording
	}

	c.logger.Info("Sending utterance", zap.Int("size", len(audio)))
	if err := c.sender.Send(ctx, utterance); err != nil {
		return fmt.Errorf("failed to send utterance: %w", err)
	}
	return nil
}

func (c *Capture) collect(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.chunks = append(c.chunks, append([]byte(nil), chunk...))
}

func (c *Capture) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notify(state)
}

func (c *Capture) notify(state State) {
	if c.onState != nil {
		c.onState(state)
	}
}
