package payment

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/payment/service"
)

var Module = fx.Module("payment",
	fx.Provide(service.New),
)
