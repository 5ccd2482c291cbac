package entitlement

import (
	"github.com/planforge/planforge/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(service.NewService),
)
