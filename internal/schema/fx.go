package schema

import "go.uber.org/fx"

var Module = fx.Module("schema.registry",
	fx.Provide(DefaultRegistry),
)
