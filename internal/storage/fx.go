package storage

import (
	"github.com/planforge/planforge/internal/config"
	"go.uber.org/fx"
)

// Stores pairs the primary object store with its fallback.
type Stores struct {
	Primary  ObjectStore
	Fallback ObjectStore
}

func NewStores(cfg config.Config) (Stores, error) {
	primary, err := NewS3Store(cfg.Storage)
	if err != nil {
		return Stores{}, err
	}
	fallback, err := NewFileSystemStore(cfg.Storage.FallbackDir, cfg.Storage.FallbackBaseURL)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Primary: primary, Fallback: fallback}, nil
}

var Module = fx.Module("storage",
	fx.Provide(NewStores),
)
