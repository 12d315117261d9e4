package invoice

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/invoice/service"
)

var Module = fx.Module("invoice",
	fx.Provide(service.New),
)
