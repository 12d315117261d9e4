package tenant

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/tenant/service"
)

var Module = fx.Module("tenant",
	fx.Provide(service.New),
)
