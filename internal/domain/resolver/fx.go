package resolver

import "go.uber.org/fx"

// Module provides the entity resolution cache
var Module = fx.Module("resolver",
	fx.Provide(New),
)
