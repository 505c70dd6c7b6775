package dispatch

import "go.uber.org/fx"

var Module = fx.Module("invoice.dispatch",
	fx.Provide(NewCoordinator),
)
