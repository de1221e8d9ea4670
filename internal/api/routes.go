package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/websocket"
)

// MessageProducer publishes validated messages to the bus
type MessageProducer interface {
	Produce(ctx context.Context, content string) (entities.Delivery, error)
	ProduceBatch(ctx context.Context, contents []string) ([]entities.Delivery, error)
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, producer MessageProducer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicerelay",
		})
	})

	// Voice sessions
	e.GET("/audio", func(c echo.Context) error {
		return audio(hub, c, logger)
	})

	// Message publishing
	messages := e.Group("/api/message")
	messages.POST("", func(c echo.Context) error {
		return produceMessage(c, producer, logger)
	})
	messages.POST("/batch", func(c echo.Context) error {
		return produceBatch(c, producer, logger)
	})
	messages.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "API is running",
		})
	})
}

func audio(hub *websocket.Hub, c echo.Context, logger *zap.Logger) error {
	if !websocket.IsUpgradeRequest(c.Request()) {
		logger.Warn("Audio request without websocket upgrade",
			zap.String("remoteAddr", c.RealIP()))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "upgrade_required",
			Message: "This endpoint only accepts WebSocket connections",
		})
	}

	return websocket.HandleAudio(hub, c, logger)
}

func produceMessage(c echo.Context, producer MessageProducer, logger *zap.Logger) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind message request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	delivery, err := producer.Produce(c.Request().Context(), req.Content)
	if err != nil {
		return errorResponse(c, err, logger)
	}

	return c.JSON(http.StatusOK, delivery)
}

func produceBatch(c echo.Context, producer MessageProducer, logger *zap.Logger) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind batch request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	deliveries, err := producer.ProduceBatch(c.Request().Context(), req.Messages)
	if err != nil {
		return errorResponse(c, err, logger)
	}

	return c.JSON(http.StatusOK, BatchResponse{
		Count:    len(deliveries),
		Messages: deliveries,
	})
}

func errorResponse(c echo.Context, err error, logger *zap.Logger) error {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   string(domain.KindValidation),
			Message: validationErr.Message,
			Field:   validationErr.Field,
		})
	}

	logger.Error("Failed to publish", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "publish_failed",
		Message: "Failed to publish message",
	})
}
