package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
)

const (
	defaultBlock     = 5 * time.Second
	defaultBatchSize = 10
	defaultRedeliver = 30 * time.Second
	retryDelay       = time.Second
)

// Handler processes one consumed message. Returning an error leaves the
// entry pending; Run hands it to the handler again on its next redelivery
// pass.
type Handler func(ctx context.Context, message entities.ConsumedMessage) error

// ConsumerConfig holds consumer group settings
type ConsumerConfig struct {
	Group     string
	Consumer  string
	Topics    []string
	Block     time.Duration
	BatchSize int64
	// Redeliver is how often this consumer retries its own pending entries
	Redeliver time.Duration
}

// StreamConsumer reads topics through a Redis consumer group
type StreamConsumer struct {
	client *redis.Client
	config ConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a consumer
func NewStreamConsumer(client *redis.Client, config ConsumerConfig, logger *zap.Logger) (*StreamConsumer, error) {
	if config.Group == "" || config.Consumer == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	if len(config.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if config.Block <= 0 {
		config.Block = defaultBlock
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Redeliver <= 0 {
		config.Redeliver = defaultRedeliver
	}

	return &StreamConsumer{client: client, config: config, logger: logger}, nil
}

// EnsureGroups creates the consumer group on every topic, creating streams
// that do not exist yet.
func (c *StreamConsumer) EnsureGroups(ctx context.Context) error {
	for _, topic := range c.config.Topics {
		err := c.client.XGroupCreateMkStream(ctx, topic, c.config.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create group %s on %s: %w", c.config.Group, topic, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled. Entries left pending by an earlier
// failure, or by a previous process with the same consumer name, are retried
// on start and then every Redeliver interval.
func (c *StreamConsumer) Run(ctx context.Context, handler Handler) error {
	streams := make([]string, 0, len(c.config.Topics)*2)
	streams = append(streams, c.config.Topics...)
	for range c.config.Topics {
		streams = append(streams, ">")
	}

	c.logger.Info("Consumer started",
		zap.String("group", c.config.Group),
		zap.String("consumer", c.config.Consumer),
		zap.Strings("topics", c.config.Topics))

	var redeliverAt time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		if now := time.Now(); !now.Before(redeliverAt) {
			c.redeliver(ctx, handler)
			redeliverAt = now.Add(c.config.Redeliver)
		}

		result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Consumer,
			Streams:  streams,
			Count:    c.config.BatchSize,
			Block:    c.config.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to read from streams", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, stream := range result {
			for _, entry := range stream.Messages {
				c.handle(ctx, stream.Stream, entry, handler)
			}
		}
	}
}

// redeliver walks this consumer's pending list on every topic once
func (c *StreamConsumer) redeliver(ctx context.Context, handler Handler) {
	for _, topic := range c.config.Topics {
		start := "0"
		for ctx.Err() == nil {
			result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.config.Group,
				Consumer: c.config.Consumer,
				Streams:  []string{topic, start},
				Count:    c.config.BatchSize,
				Block:    -1,
			}).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Error("Failed to read pending entries", zap.String("topic", topic), zap.Error(err))
				}
				break
			}

			var entries []redis.XMessage
			for _, stream := range result {
				entries = append(entries, stream.Messages...)
			}
			if len(entries) == 0 {
				break
			}

			c.logger.Info("Redelivering pending entries",
				zap.String("topic", topic),
				zap.Int("count", len(entries)))
			for _, entry := range entries {
				c.handle(ctx, topic, entry, handler)
			}

			// Entries that failed again stay pending; move past them.
			start = entries[len(entries)-1].ID
			if int64(len(entries)) < c.config.BatchSize {
				break
			}
		}
	}
}

func (c *StreamConsumer) handle(ctx context.Context, topic string, entry redis.XMessage, handler Handler) {
	message, err := decodeEntry(topic, entry)
	if err != nil {
		// Undecodable entries are acknowledged so they do not block the group.
		c.logger.Warn("Dropping malformed entry",
			zap.String("topic", topic),
			zap.String("offset", entry.ID),
			zap.Error(err))
	} else if err := handler(ctx, message); err != nil {
		c.logger.Error("Handler failed, entry left pending",
			zap.String("topic", topic),
			zap.String("offset", entry.ID),
			zap.Error(err))
		return
	}

	if err := c.client.XAck(ctx, topic, c.config.Group, entry.ID).Err(); err != nil {
		c.logger.Error("Failed to acknowledge entry",
			zap.String("topic", topic),
			zap.String("offset", entry.ID),
			zap.Error(err))
	}
}

func decodeEntry(topic string, entry redis.XMessage) (entities.ConsumedMessage, error) {
	raw, ok := entry.Values[fieldValue].(string)
	if !ok {
		return entities.ConsumedMessage{}, fmt.Errorf("entry %s has no %q field", entry.ID, fieldValue)
	}

	var message entities.Message
	if err := json.Unmarshal([]byte(raw), &message); err != nil {
		return entities.ConsumedMessage{}, fmt.Errorf("failed to decode entry %s: %w", entry.ID, err)
	}

	return entities.ConsumedMessage{
		Message:    message,
		Topic:      topic,
		Offset:     entry.ID,
		ConsumedAt: time.Now().UTC(),
	}, nil
}
