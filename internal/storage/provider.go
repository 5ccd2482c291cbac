// Package storage holds the durable object stores deliverables are written to.
package storage

import "context"

// ObjectStore persists one artifact under a key and returns a retrievable URL.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
