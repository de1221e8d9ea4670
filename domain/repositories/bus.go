package repositories

import (
	"context"

	"github.com/satriahrh/voicerelay/domain/entities"
)

// MessagePublisher writes messages to the message bus
type MessagePublisher interface {
	// Publish writes all messages to topic atomically and returns their
	// coordinates in input order.
	Publish(ctx context.Context, topic string, messages []entities.Message) ([]entities.Delivery, error)
}

// MessageArchive stores messages read back from the bus
type MessageArchive interface {
	Save(ctx context.Context, message *entities.ConsumedMessage) error
}
