package domain

import "context"

// Service admits or rejects a provider call before it is made. It never
// blocks on accounting: persistence failures are logged, not surfaced.
type Service interface {
	Admit(ctx context.Context, modelID string, estimatedTokens int64) Decision
}
