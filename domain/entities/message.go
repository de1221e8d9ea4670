package entities

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatusProduced marks a message accepted by the bus
const DeliveryStatusProduced = "Produced"

// Message is the payload written to the message bus
type Message struct {
	ID        string    `json:"id" bson:"message_id"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// NewMessage creates a message with a fresh ID
func NewMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Delivery holds the coordinates of a published message
type Delivery struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    string `json:"offset"`
}

// ConsumedMessage is a message read back from the bus together with its coordinates
type ConsumedMessage struct {
	Message    `bson:",inline"`
	Topic      string    `json:"topic" bson:"topic"`
	Offset     string    `json:"offset" bson:"offset"`
	ConsumedAt time.Time `json:"consumed_at" bson:"consumed_at"`
}
