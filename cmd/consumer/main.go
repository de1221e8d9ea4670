package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/adapters/mongo"
	"github.com/satriahrh/voicerelay/adapters/redis"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
	"github.com/satriahrh/voicerelay/internal/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.LoadBus()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	var archive repositories.MessageArchive
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.NewClient(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Close(closeCtx)
		}()

		archive, err = mongo.NewMessageArchive(ctx, mongoClient, logger)
		if err != nil {
			logger.Fatal("Failed to initialize message archive", zap.Error(err))
		}
	} else {
		logger.Info("MONGODB_URI not set, consumed messages are only logged")
	}

	consumer, err := redis.NewStreamConsumer(redisClient, redis.ConsumerConfig{
		Group:    cfg.ConsumerGroup,
		Consumer: cfg.ConsumerName,
		Topics:   []string{cfg.MessageTopic, cfg.ReplyTopic},
	}, logger)
	if err != nil {
		logger.Fatal("Invalid consumer configuration", zap.Error(err))
	}

	if err := consumer.EnsureGroups(ctx); err != nil {
		logger.Fatal("Failed to create consumer groups", zap.Error(err))
	}

	err = consumer.Run(ctx, func(ctx context.Context, message entities.ConsumedMessage) error {
		logger.Info("Message consumed",
			zap.String("topic", message.Topic),
			zap.String("offset", message.Offset),
			zap.String("messageID", message.ID),
			zap.String("content", message.Content))

		if archive == nil {
			return nil
		}
		return archive.Save(ctx, &message)
	})
	if err != nil {
		logger.Error("Consumer stopped with error", zap.Error(err))
	}

	logger.Info("Consumer exited")
}
