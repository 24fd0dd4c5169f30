package delivery

import (
	controlhttp "github.com/Conte777/tgvault/internal/domain/control/delivery/http"
	"github.com/Conte777/tgvault/internal/infrastructure/http/server"
	"go.uber.org/fx"
)

// Module provides the control HTTP handlers and mounts them on the server
var Module = fx.Module("control-http",
	fx.Provide(
		controlhttp.NewHandler,
		controlhttp.NewRouter,
	),
	fx.Invoke(registerRoutes),
)

func registerRoutes(srv *server.Server, router *controlhttp.Router) {
	router.RegisterRoutes(srv.Router)
}
