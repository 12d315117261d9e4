package apikey

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/apikey/service"
)

var Module = fx.Module("apikey",
	fx.Provide(service.New),
)
