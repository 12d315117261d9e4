package observability

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/observability/metrics"
)

var Module = fx.Module("observability",
	fx.Provide(metrics.New),
)
