package llm

import (
	"fmt"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/llm/anthropic"
	llmdomain "github.com/planforge/planforge/internal/llm/domain"
	"github.com/planforge/planforge/internal/llm/openai"
	"go.uber.org/fx"
)

// Providers pairs the primary completion backend with its fallback.
type Providers struct {
	Primary   llmdomain.Completer
	Secondary llmdomain.Completer
}

func NewProviders(cfg config.Config) (Providers, error) {
	primary, err := build(cfg.Primary)
	if err != nil {
		return Providers{}, fmt.Errorf("primary provider: %w", err)
	}
	secondary, err := build(cfg.Secondary)
	if err != nil {
		return Providers{}, fmt.Errorf("secondary provider: %w", err)
	}
	return Providers{Primary: primary, Secondary: secondary}, nil
}

func build(cfg config.ProviderConfig) (llmdomain.Completer, error) {
	switch cfg.Kind {
	case "anthropic":
		return anthropic.NewClient(cfg), nil
	case "openai":
		return openai.NewClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

var Module = fx.Module("llm",
	fx.Provide(NewProviders),
)
