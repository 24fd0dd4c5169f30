package detection

import "go.uber.org/fx"

// Module provides the detection side-work
var Module = fx.Module("detection",
	fx.Provide(NewService),
)
