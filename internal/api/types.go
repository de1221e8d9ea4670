package api

import "github.com/satriahrh/voicerelay/domain/entities"

// MessageRequest represents the request payload for publishing one message
type MessageRequest struct {
	Content string `json:"content"`
}

// BatchRequest represents the request payload for publishing several messages
type BatchRequest struct {
	Messages []string `json:"messages"`
}

// BatchResponse lists the coordinates of every published message
type BatchResponse struct {
	Count    int                 `json:"count"`
	Messages []entities.Delivery `json:"messages"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}
