package upsert

import "go.uber.org/fx"

// Module provides the conflict resolver
var Module = fx.Module("upsert",
	fx.Provide(NewResolver),
)
