package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/websocket"
	"github.com/satriahrh/voicerelay/usecase"
)

type stubPublisher struct {
	calls int
	err   error
}

func (p *stubPublisher) Publish(ctx context.Context, topic string, messages []entities.Message) ([]entities.Delivery, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	deliveries := make([]entities.Delivery, len(messages))
	for i, m := range messages {
		deliveries[i] = entities.Delivery{
			MessageID: m.ID,
			Status:    entities.DeliveryStatusProduced,
			Topic:     topic,
			Offset:    fmt.Sprintf("1700000000000-%d", i),
		}
	}
	return deliveries, nil
}

func setupTestServer(t *testing.T, publisher *stubPublisher, runner websocket.SessionRunner) *echo.Echo {
	t.Helper()
	logger := zaptest.NewLogger(t)

	if runner == nil {
		runner = func(ctx context.Context, sessionID string, conn *websocket.Conn) {
			conn.Close(gorilla.CloseNormalClosure, "processing_complete")
		}
	}
	hub := websocket.NewHub(runner, 0, logger)
	go hub.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Shutdown(ctx); err != nil {
			t.Errorf("Hub shutdown failed: %v", err)
		}
	})

	e := echo.New()
	InitRoutes(e, hub, usecase.NewMessageService(publisher, "messages", logger), logger)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := setupTestServer(t, &stubPublisher{}, nil)

	rec := doJSON(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["service"] != "voicerelay" {
		t.Errorf("Unexpected health body %v", body)
	}

	rec = doJSON(e, http.MethodGet, "/api/message/health", "")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusOK || body["status"] != "API is running" {
		t.Errorf("Unexpected message health response %d %v", rec.Code, body)
	}
}

func TestProduceMessage(t *testing.T) {
	publisher := &stubPublisher{}
	e := setupTestServer(t, publisher, nil)

	rec := doJSON(e, http.MethodPost, "/api/message", `{"content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var delivery entities.Delivery
	if err := json.Unmarshal(rec.Body.Bytes(), &delivery); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if delivery.MessageID == "" || delivery.Status != "Produced" || delivery.Topic != "messages" || delivery.Offset == "" {
		t.Errorf("Missing coordinates in %+v", delivery)
	}
}

func TestProduceMessage_Empty(t *testing.T) {
	publisher := &stubPublisher{}
	e := setupTestServer(t, publisher, nil)

	rec := doJSON(e, http.MethodPost, "/api/message", `{"content":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var body ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "validation_error" || body.Message != "Message content cannot be empty" {
		t.Errorf("Unexpected error body %+v", body)
	}
	if publisher.calls != 0 {
		t.Errorf("Expected no publish calls, got %d", publisher.calls)
	}
}

func TestProduceMessage_InvalidJSON(t *testing.T) {
	e := setupTestServer(t, &stubPublisher{}, nil)

	rec := doJSON(e, http.MethodPost, "/api/message", `{"content":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestProduceMessage_PublisherFailure(t *testing.T) {
	e := setupTestServer(t, &stubPublisher{err: errors.New("connection refused")}, nil)

	rec := doJSON(e, http.MethodPost, "/api/message", `{"content":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestProduceBatch(t *testing.T) {
	publisher := &stubPublisher{}
	e := setupTestServer(t, publisher, nil)

	rec := doJSON(e, http.MethodPost, "/api/message/batch", `{"messages":["a","b","c"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body BatchResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 3 || len(body.Messages) != 3 {
		t.Errorf("Expected 3 deliveries, got %+v", body)
	}
	if publisher.calls != 1 {
		t.Errorf("Expected one atomic publish, got %d", publisher.calls)
	}
}

func TestProduceBatch_OneEmptyItemRejectsAll(t *testing.T) {
	publisher := &stubPublisher{}
	e := setupTestServer(t, publisher, nil)

	rec := doJSON(e, http.MethodPost, "/api/message/batch", `{"messages":["a","","c"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var body ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Field != "messages[1]" {
		t.Errorf("Expected field messages[1], got '%s'", body.Field)
	}
	if publisher.calls != 0 {
		t.Errorf("Expected publisher never called, got %d calls", publisher.calls)
	}
}

func TestProduceBatch_EmptyList(t *testing.T) {
	publisher := &stubPublisher{}
	e := setupTestServer(t, publisher, nil)

	rec := doJSON(e, http.MethodPost, "/api/message/batch", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var body ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Messages list cannot be empty" {
		t.Errorf("Unexpected message '%s'", body.Message)
	}
}

func TestAudio_RejectsPlainHTTP(t *testing.T) {
	e := setupTestServer(t, &stubPublisher{}, nil)

	rec := doJSON(e, http.MethodGet, "/audio", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var body ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "upgrade_required" {
		t.Errorf("Expected upgrade_required, got '%s'", body.Error)
	}
}

func TestAudio_Upgrade(t *testing.T) {
	e := setupTestServer(t, &stubPublisher{}, nil)
	server := httptest.NewServer(e)
	defer server.Close()

	client, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/audio", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = client.ReadMessage()

	var closeErr *gorilla.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != gorilla.CloseNormalClosure {
		t.Errorf("Expected normal closure, got %v", err)
	}
}
