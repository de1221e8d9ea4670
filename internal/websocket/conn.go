package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the peer to acknowledge our close frame.
	closeWait = 2 * time.Second

	// DefaultMaxUploadBytes bounds one utterance.
	DefaultMaxUploadBytes = 4 << 20
)

// Conn frames one audio session over a websocket connection. Reads and
// writes must each come from a single goroutine. Close may be called from
// any goroutine; it only waits for the peer's close acknowledgement when no
// read is in flight.
type Conn struct {
	conn           *websocket.Conn
	maxUploadBytes int64
	logger         *zap.Logger

	// Held for the duration of a read, and by Close while it drains.
	readMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded connection
func NewConn(conn *websocket.Conn, maxUploadBytes int64, logger *zap.Logger) *Conn {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &Conn{
		conn:           conn,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// ReadUtterance reads the next data message, joining its fragments into one
// buffer. A text message ends input early and yields whatever arrived before
// it. A close frame yields domain.ErrPeerClosed.
func (c *Conn) ReadUtterance(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	messageType, reader, err := c.conn.NextReader()
	if err != nil {
		return nil, c.readError(ctx, err)
	}

	if messageType != websocket.BinaryMessage {
		c.logger.Warn("Received unexpected frame type during upload, ending input",
			zap.Int("type", messageType))
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(reader, c.maxUploadBytes+1))
	if err != nil {
		return nil, c.readError(ctx, err)
	}

	if int64(len(data)) > c.maxUploadBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", domain.ErrUtteranceTooLarge, c.maxUploadBytes)
	}

	c.logger.Debug("Received utterance", zap.Int("bytes", len(data)))
	return data, nil
}

func (c *Conn) readError(ctx context.Context, err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: code %d", domain.ErrPeerClosed, closeErr.Code)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("failed to read upload: %w", err)
}

// WriteChunk sends one binary message
func (c *Conn) WriteChunk(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

// KeepAlive pings the peer until the connection is closed or ctx ends, so
// intermediaries keep the socket open while the stages run.
func (c *Conn) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Close sends a close frame with code and reason, waits briefly for the
// peer to acknowledge it, then closes the socket. Only the first call has
// any effect.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)

		deadline := time.Now().Add(writeWait)
		err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		if err == nil {
			// With a read in flight, closing the socket below ends it.
			if c.readMu.TryLock() {
				c.awaitCloseAck()
				defer c.readMu.Unlock()
			}
		} else if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("Failed to send close frame", zap.Error(err))
		}

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// awaitCloseAck drains the connection until the peer's close frame arrives
// or closeWait passes.
func (c *Conn) awaitCloseAck() {
	c.conn.SetReadDeadline(time.Now().Add(closeWait))
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
