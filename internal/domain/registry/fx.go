package registry

import "go.uber.org/fx"

// Module provides the shared connection registry
var Module = fx.Module("registry",
	fx.Provide(New),
)
