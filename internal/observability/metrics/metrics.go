package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	invoicesIssued  metric.Int64Counter
	transitions     metric.Int64Counter
	dispatchResults metric.Int64Counter
	renders         metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "invoicedesk"
	}
	meter := provider.Meter(name)

	invoicesIssued, err := meter.Int64Counter("invoicedesk_invoices_issued_total")
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("invoicedesk_status_transitions_total")
	if err != nil {
		return nil, err
	}
	dispatchResults, err := meter.Int64Counter("invoicedesk_dispatch_results_total")
	if err != nil {
		return nil, err
	}
	renders, err := meter.Int64Counter("invoicedesk_renders_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesIssued:  invoicesIssued,
		transitions:     transitions,
		dispatchResults: dispatchResults,
		renders:         renders,
	}, nil
}

// RecordInvoiceIssued counts numbers handed out per strategy.
func (m *Metrics) RecordInvoiceIssued(ctx context.Context, strategy, scope string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("strategy", strings.TrimSpace(strategy)),
		attribute.String("scope", strings.TrimSpace(scope)),
	)
	m.invoicesIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string, override bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.Bool("override", override),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatch counts send attempts by outcome; stage is empty on success.
func (m *Metrics) RecordDispatch(ctx context.Context, stage, kind string) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if stage != "" {
		outcome = "failed"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
		attribute.String("kind", kind),
	)
	m.dispatchResults.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRender(ctx context.Context, mode string, cached bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("mode", mode),
		attribute.Bool("cached", cached),
	)
	m.renders.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"strategy": {},
	"scope":    {},
	"from":     {},
	"to":       {},
	"override": {},
	"outcome":  {},
	"stage":    {},
	"kind":     {},
	"mode":     {},
	"cached":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
