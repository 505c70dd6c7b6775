package client

import (
	"github.com/smallbiznis/invoicedesk/internal/client/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("client",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideDirectory),
)
