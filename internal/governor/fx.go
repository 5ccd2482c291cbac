package governor

import (
	"github.com/planforge/planforge/internal/governor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("governor",
	fx.Provide(service.NewService),
)
