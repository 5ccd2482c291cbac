// Package domain defines the completion contract both LLM backends satisfy.
package domain

import (
	"context"
	"errors"
)

// Completer is the single call shape the orchestrator needs from a backend.
// Implementations carry their own model and credentials; a call either
// returns non-empty text or an error.
type Completer interface {
	Name() string
	ModelID() string
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

var (
	ErrMissingAPIKey  = errors.New("missing_api_key")
	ErrEmptyResponse  = errors.New("empty_response")
	ErrInvalidPayload = errors.New("invalid_payload")
)
