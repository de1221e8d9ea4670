package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate takes a user prompt and returns the model's reply, bounded by
	// maxOutputTokens. Values below one are rejected.
	Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}
