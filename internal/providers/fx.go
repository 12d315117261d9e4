package providers

import (
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/providers/pdf"
)

var Module = fx.Module("providers",
	pdf.Module,
)
