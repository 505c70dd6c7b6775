package render

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.EngineMetrics `optional:"true"`
}

// Renderer turns a Document into PDF bytes. It is stateless and safe for
// concurrent use.
type Renderer struct {
	log      *zap.Logger
	metrics  *metrics.EngineMetrics
	geometry Geometry
}

func NewRenderer(p Params) *Renderer {
	return &Renderer{
		log:      p.Log.Named("invoice.render"),
		metrics:  p.Metrics,
		geometry: A4(),
	}
}

func (r *Renderer) Render(ctx context.Context, doc Document, mode Mode) (out Output, err error) {
	_, span := tracing.StartSpan(ctx, "invoice.render",
		attribute.String("render.mode", mode.String()),
		attribute.Int("render.lines", len(doc.Lines)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	started := time.Now()
	var data []byte
	layout, err := Plan(doc, mode, r.geometry)
	if err == nil {
		data, err = emit(layout, doc)
	}
	if err != nil {
		if !isRenderError(err) {
			err = fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
		}
		r.log.Warn("render failed", zap.String("number", doc.Number), zap.Error(err))
		return Output{}, err
	}

	pages := len(layout.Pages)
	span.SetAttributes(attribute.Int("render.pages", pages))
	r.metrics.ObserveRender(mode.String(), pages, time.Since(started))

	return Output{
		Bytes:    data,
		Filename: Filename(doc.Number, doc.Recipient.displayName(), mode),
		Pages:    pages,
	}, nil
}

func (r Recipient) displayName() string {
	if r.Company != "" {
		return r.Company
	}
	return r.Name
}
