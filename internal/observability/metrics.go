// Package observability provides OpenTelemetry instrumentation for tracing
// and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics endpoint
// and a shutdown function to be called on application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics bundles the domain instruments. A nil *Metrics is a no-op so
// components can be wired without observability in tests.
type Metrics struct {
	dispatches  metric.Int64Counter
	syncResults metric.Int64Counter
	restarts    metric.Int64Counter
}

// NewMetrics registers the domain instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("listsync")

	dispatches, err := meter.Int64Counter("listsync.dispatches",
		metric.WithDescription("Queue entries dispatched, by account and outcome"))
	if err != nil {
		return nil, err
	}
	syncResults, err := meter.Int64Counter("listsync.sync_results",
		metric.WithDescription("Sync engine classifications per identifier"))
	if err != nil {
		return nil, err
	}
	restarts, err := meter.Int64Counter("listsync.worker_restarts",
		metric.WithDescription("Unexpected worker exits that triggered a restart"))
	if err != nil {
		return nil, err
	}

	return &Metrics{dispatches: dispatches, syncResults: syncResults, restarts: restarts}, nil
}

// RecordDispatch counts one dispatch outcome for an account.
func (m *Metrics) RecordDispatch(ctx context.Context, accountID, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account_id", accountID),
		attribute.String("outcome", outcome),
	))
}

// RecordSync counts n identifiers under one sync classification.
func (m *Metrics) RecordSync(ctx context.Context, classification string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.syncResults.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("classification", classification),
	))
}

// RecordRestart counts one worker restart.
func (m *Metrics) RecordRestart(ctx context.Context, accountID string) {
	if m == nil {
		return
	}
	m.restarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account_id", accountID),
	))
}
