// Package redis implements the message bus on Redis Streams. A topic is a
// stream key, the partition is always 0 and the offset is the entry ID.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	fieldKey   = "key"
	fieldValue = "value"
)

// StreamPublisher appends messages to Redis streams
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
	logger *zap.Logger
}

var _ repositories.MessagePublisher = (*StreamPublisher)(nil)

// NewStreamPublisher creates a publisher. A positive maxLen trims each
// stream to roughly that many entries.
func NewStreamPublisher(client *redis.Client, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish appends all messages inside one MULTI/EXEC so a batch lands
// entirely or not at all.
func (p *StreamPublisher) Publish(ctx context.Context, topic string, messages []entities.Message) ([]entities.Delivery, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	pipe := p.client.TxPipeline()
	cmds := make([]*redis.StringCmd, len(messages))
	for i, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message %s: %w", message.ID, err)
		}

		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: topic,
			MaxLen: p.maxLen,
			Approx: p.maxLen > 0,
			Values: map[string]interface{}{
				fieldKey:   message.ID,
				fieldValue: string(payload),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append to stream %s: %w", topic, err)
	}

	deliveries := make([]entities.Delivery, len(messages))
	for i, message := range messages {
		deliveries[i] = entities.Delivery{
			MessageID: message.ID,
			Status:    entities.DeliveryStatusProduced,
			Topic:     topic,
			Partition: 0,
			Offset:    cmds[i].Val(),
		}
		p.logger.Debug("Message appended",
			zap.String("topic", topic),
			zap.String("messageID", message.ID),
			zap.String("offset", deliveries[i].Offset))
	}

	return deliveries, nil
}
