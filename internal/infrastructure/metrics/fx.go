package metrics

import "go.uber.org/fx"

// Module provides the process-wide vault metrics registered on the default registry
var Module = fx.Module("metrics",
	fx.Provide(GetDefaultMetrics),
)
