package usage

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/usage/service"
)

var Module = fx.Module("usage",
	fx.Provide(service.New),
)
