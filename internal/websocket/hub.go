package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 4 * 1024,
}

// SessionRunner drives one session to completion over conn. It must close
// conn before returning.
type SessionRunner func(ctx context.Context, sessionID string, conn *Conn)

// Hub tracks the live audio sessions so they can be cancelled on shutdown.
type Hub struct {
	// Live sessions keyed by session ID.
	sessions map[string]context.CancelFunc

	// Register requests from new sessions.
	register chan *registration

	// Unregister requests from finished sessions.
	unregister chan string

	// Mutex for thread-safe access to sessions map
	mu sync.RWMutex

	wg             sync.WaitGroup
	stopped        chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	runner         SessionRunner
	maxUploadBytes int64
	logger         *zap.Logger
}

type registration struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHub creates a new session hub
func NewHub(runner SessionRunner, maxUploadBytes int64, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:       make(map[string]context.CancelFunc),
		register:       make(chan *registration),
		unregister:     make(chan string),
		ctx:            ctx,
		cancel:         cancel,
		stopped:        make(chan struct{}),
		runner:         runner,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Run processes registrations until Shutdown is called
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.sessions[reg.sessionID] = reg.cancel
			h.mu.Unlock()
			close(reg.done)
			h.logger.Info("Session registered",
				zap.String("sessionID", reg.sessionID),
				zap.Int("activeSessions", h.ActiveSessions()))

		case sessionID := <-h.unregister:
			h.mu.Lock()
			if cancel, ok := h.sessions[sessionID]; ok {
				cancel()
				delete(h.sessions, sessionID)
			}
			h.mu.Unlock()
			h.logger.Info("Session unregistered",
				zap.String("sessionID", sessionID),
				zap.Int("activeSessions", h.ActiveSessions()))

		case <-h.ctx.Done():
			h.mu.Lock()
			for sessionID, cancel := range h.sessions {
				cancel()
				delete(h.sessions, sessionID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ActiveSessions returns the number of registered sessions
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Serve runs one session on its own goroutine
func (h *Hub) Serve(conn *Conn) string {
	sessionID := uuid.New().String()
	ctx, cancel := context.WithCancel(h.ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()

		reg := &registration{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
		select {
		case h.register <- reg:
			<-reg.done
		case <-h.ctx.Done():
			conn.Close(websocket.CloseGoingAway, "server_shutdown")
			return
		}

		keepAlive := make(chan struct{})
		go func() {
			defer close(keepAlive)
			conn.KeepAlive(ctx)
		}()
		h.runner(ctx, sessionID, conn)
		cancel()
		<-keepAlive

		select {
		case h.unregister <- sessionID:
		case <-h.ctx.Done():
		}
	}()

	return sessionID
}

// Shutdown cancels every live session and waits for them and Run to finish
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		<-h.stopped
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleAudio upgrades the request and hands the connection to the hub.
// Callers reject non-websocket requests before calling it.
func HandleAudio(hub *Hub, c echo.Context, logger *zap.Logger) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return nil
	}

	conn := NewConn(ws, hub.maxUploadBytes, logger)
	logger.Debug("Audio connection upgraded", zap.String("remoteAddr", c.RealIP()))

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	hub.Serve(conn)
	return nil
}

// IsUpgradeRequest reports whether r asks for a websocket upgrade
func IsUpgradeRequest(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
