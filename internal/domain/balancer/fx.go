package balancer

import "go.uber.org/fx"

// Module provides the client load balancer
var Module = fx.Module("balancer",
	fx.Provide(New),
)
