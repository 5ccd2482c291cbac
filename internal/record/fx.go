package record

import (
	"github.com/planforge/planforge/internal/record/service"
	"go.uber.org/fx"
)

var Module = fx.Module("record",
	fx.Provide(service.NewService),
)
