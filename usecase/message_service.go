package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	msgEmptyContent = "Message content cannot be empty"
	msgEmptyBatch   = "Messages list cannot be empty"
)

// MessageService validates and publishes free-form text messages
type MessageService struct {
	publisher repositories.MessagePublisher
	topic     string
	logger    *zap.Logger
}

// NewMessageService creates a new message service publishing to topic
func NewMessageService(publisher repositories.MessagePublisher, topic string, logger *zap.Logger) *MessageService {
	return &MessageService{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Topic returns the destination messages are published to
func (s *MessageService) Topic() string {
	return s.topic
}

// Produce publishes a single message
func (s *MessageService) Produce(ctx context.Context, content string) (entities.Delivery, error) {
	if strings.TrimSpace(content) == "" {
		return entities.Delivery{}, &domain.ValidationError{Field: "content", Message: msgEmptyContent}
	}

	deliveries, err := s.publish(ctx, []string{content})
	if err != nil {
		return entities.Delivery{}, err
	}
	return deliveries[0], nil
}

// ProduceBatch publishes every message or none. The whole batch is rejected
// when the list is empty or any item is blank.
func (s *MessageService) ProduceBatch(ctx context.Context, contents []string) ([]entities.Delivery, error) {
	if len(contents) == 0 {
		return nil, &domain.ValidationError{Field: "messages", Message: msgEmptyBatch}
	}

	for i, content := range contents {
		if strings.TrimSpace(content) == "" {
			return nil, &domain.ValidationError{
				Field:   fmt.Sprintf("messages[%d]", i),
				Message: msgEmptyContent,
			}
		}
	}

	return s.publish(ctx, contents)
}

func (s *MessageService) publish(ctx context.Context, contents []string) ([]entities.Delivery, error) {
	messages := make([]entities.Message, len(contents))
	for i, content := range contents {
		messages[i] = entities.NewMessage(content)
	}

	deliveries, err := s.publisher.Publish(ctx, s.topic, messages)
	if err != nil {
		s.logger.Error("Failed to publish messages",
			zap.String("topic", s.topic),
			zap.Int("count", len(messages)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to publish messages: %w", err)
	}

	s.logger.Info("Messages published",
		zap.String("topic", s.topic),
		zap.Int("count", len(deliveries)))
	return deliveries, nil
}
