package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("stage", "send"),
		attribute.String("invoice_id", "456"),
		attribute.String("kind", "transient"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("stage"), attrs[0].Key)
	assert.Equal(t, attribute.Key("kind"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDispatch(context.Background(), "send", "transient")

	var e *EngineMetrics
	e.ObserveDispatch("", "", time.Second)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordInvoiceIssued(context.Background(), "counter", "global")
	m.RecordRender(context.Background(), "client", false)
}

func TestEngineMetricsCountDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg, Config{ServiceName: "invoicedesk", Environment: "test"})

	m.ObserveDispatch("", "", 200*time.Millisecond)
	m.ObserveDispatch("send", "rejected", time.Second)
	m.ObserveDispatch("send", "rejected", time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchTotal.WithLabelValues("none", "none")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.dispatchTotal.WithLabelValues("send", "rejected")))
}

func TestEngineMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewEngineMetrics(reg, Config{})
	second := NewEngineMetrics(reg, Config{})

	first.ObserveNumberRetry()
	second.ObserveNumberRetry()

	assert.Equal(t, float64(2), testutil.ToFloat64(first.numberRetries))
	assert.Equal(t, 1, testutil.CollectAndCount(first.numberRetries))
}
