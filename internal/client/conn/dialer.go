// Package conn sends one utterance per websocket connection and feeds the
// reply into the playback buffer.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/client/capture"
	"github.com/satriahrh/voicerelay/internal/client/playback"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
)

// Player receives the chunks of one exchange
type Player interface {
	Begin() (playback.Generation, error)
	Push(gen playback.Generation, chunk []byte)
	Finish(gen playback.Generation)
}

// Exchange is one utterance sent and its reply being received
type Exchange struct {
	Generation playback.Generation

	done   chan struct{}
	mu     sync.Mutex
	code   int
	reason string
	err    error
	chunks int
	bytes  int
}

// Done is closed once the server closed the connection
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange ends and returns the close code and reason
func (e *Exchange) Wait(ctx context.Context) (int, string, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, e.reason, e.err
}

// Received returns how many chunks and bytes arrived
func (e *Exchange) Received() (chunks, bytes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chunks, e.bytes
}

// Dialer opens a connection per utterance
type Dialer struct {
	url    string
	player Player
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ capture.Sender = (*Dialer)(nil)

// NewDialer creates a dialer for the server's /audio endpoint
func NewDialer(url string, player Player, logger *zap.Logger) *Dialer {
	return &Dialer{
		url:    url,
		player: player,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeWait,
		},
		logger: logger,
	}
}

// Send submits utterance and returns once it has been written
func (d *Dialer) Send(ctx context.Context, utterance entities.Utterance) error {
	_, err := d.Exchange(ctx, utterance)
	return err
}

// Exchange dials, starts a new playback generation, writes utterance as one
// binary message and receives the reply in the background.
func (d *Dialer) Exchange(ctx context.Context, utterance entities.Utterance) (*Exchange, error) {
	if utterance.IsEmpty() {
		return nil, capture.ErrEmptyRecording
	}

	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.url, err)
	}

	gen, err := d.player.Begin()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to begin playback: %w", err)
	}

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.BinaryMessage, utterance.Audio); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send utterance: %w", err)
	}

	exchange := &Exchange{Generation: gen, done: make(chan struct{})}
	go d.receive(ws, exchange)

	d.logger.Debug("Utterance sent",
		zap.Uint64("generation", uint64(gen)),
		zap.Int("size", len(utterance.Audio)))
	return exchange, nil
}

func (d *Dialer) receive(ws *websocket.Conn, exchange *Exchange) {
	defer close(exchange.done)
	defer ws.Close()
	defer d.player.Finish(exchange.Generation)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			exchange.mu.Lock()
			defer exchange.mu.Unlock()

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				exchange.code = closeErr.Code
				exchange.reason = closeErr.Text
				d.logger.Info("Server closed session",
					zap.Int("closeCode", closeErr.Code),
					zap.String("closeReason", closeErr.Text),
					zap.Int("chunks", exchange.chunks))
				if closeErr.Code != websocket.CloseNormalClosure {
					exchange.err = fmt.Errorf("session closed with %d %s", closeErr.Code, closeErr.Text)
				}
				return
			}

			exchange.err = fmt.Errorf("connection lost: %w", err)
			d.logger.Warn("Connection lost", zap.Error(err))
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		exchange.mu.Lock()
		exchange.chunks++
		exchange.bytes += len(data)
		exchange.mu.Unlock()

		d.player.Push(exchange.Generation, data)
	}
}
