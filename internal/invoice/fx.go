package invoice

import (
	"github.com/smallbiznis/invoicedesk/internal/invoice/aggregate"
	"github.com/smallbiznis/invoicedesk/internal/invoice/dispatch"
	"github.com/smallbiznis/invoicedesk/internal/invoice/document"
	"github.com/smallbiznis/invoicedesk/internal/invoice/numbering"
	"github.com/smallbiznis/invoicedesk/internal/invoice/render"
	"github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	"github.com/smallbiznis/invoicedesk/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice",
	fx.Provide(repository.Provide),
	fx.Provide(aggregate.NewLoader),
	fx.Provide(numbering.New),
	fx.Provide(render.NewRenderer),
	document.Module,
	dispatch.Module,
	fx.Provide(service.NewService),
)
