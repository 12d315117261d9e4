package audit

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(service.New),
)
