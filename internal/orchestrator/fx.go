package orchestrator

import (
	"github.com/planforge/planforge/internal/orchestrator/service"
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(service.NewService),
)
