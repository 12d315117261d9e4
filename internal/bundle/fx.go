package bundle

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/bundle/service"
)

var Module = fx.Module("bundle",
	fx.Provide(service.New),
)
