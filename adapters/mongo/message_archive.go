package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const messagesCollection = "messages"

// MessageArchive stores consumed bus messages
type MessageArchive struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.MessageArchive = (*MessageArchive)(nil)

// NewMessageArchive creates the archive and its indexes
func NewMessageArchive(ctx context.Context, client *Client, logger *zap.Logger) (*MessageArchive, error) {
	collection := client.Database.Collection(messagesCollection)

	// A redelivered entry has the same topic and offset
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "offset", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "consumed_at", Value: -1}},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create message indexes: %w", err)
	}

	return &MessageArchive{collection: collection, logger: logger}, nil
}

// Save inserts a consumed message. Saving the same entry twice is not an error.
func (a *MessageArchive) Save(ctx context.Context, message *entities.ConsumedMessage) error {
	_, err := a.collection.InsertOne(ctx, message)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.Debug("Message already archived",
			zap.String("topic", message.Topic),
			zap.String("offset", message.Offset))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive message %s: %w", message.ID, err)
	}
	return nil
}
