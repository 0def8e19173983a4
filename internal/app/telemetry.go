package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const (
	telemetryServiceName    = "ride-checkout-gateway"
	metricExportInterval    = 15 * time.Second
	telemetryShutdownWindow = 5 * time.Second
)

// telemetry holds the providers exported to the collector. Checkout metrics (attempt outcomes,
// commit latency) reach it through the global meter provider.
type telemetry struct {
	tracer *trace.TracerProvider
	meter  *metric.MeterProvider
	logs   *log.LoggerProvider
}

// initTelemetry installs the global providers and routes the gateway's logs to the collector
// as well as to stdout. Without a collector URL the global no-op providers stay in place.
func (app *application) initTelemetry() (func(context.Context), error) {
	endpoint := app.config.otelCollectorUrl
	if endpoint == "" {
		app.logger.Info("OpenTelemetry collector URL not set, skipping initialization")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(telemetryServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(app.config.env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	t := &telemetry{}
	err = t.start(ctx, endpoint, res)
	if err != nil {
		t.shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(t.tracer)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetMeterProvider(t.meter)
	global.SetLoggerProvider(t.logs)

	app.logger = slog.New(newFanoutHandler(
		app.logger.Handler(),
		otelslog.NewHandler(telemetryServiceName, otelslog.WithLoggerProvider(t.logs)),
	))

	app.logger.Info("telemetry exporting", "collector", endpoint)

	return func(ctx context.Context) {
		err := t.shutdown(ctx)
		if err != nil {
			app.logger.Error("failed to shutdown telemetry providers", "error", err)
		}
	}, nil
}

// start creates one OTLP/gRPC exporter per signal. Providers created before a failure are left
// set so shutdown can release them.
func (t *telemetry) start(ctx context.Context, endpoint string, res *resource.Resource) error {
	spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(endpoint))
	if err != nil {
		return fmt.Errorf("create otel trace exporter: %w", err)
	}
	t.tracer = trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
		trace.WithResource(res),
		trace.WithBatcher(spans),
	)

	metrics, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure(), otlpmetricgrpc.WithEndpoint(endpoint))
	if err != nil {
		return fmt.Errorf("create otel metric exporter: %w", err)
	}
	t.meter = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(metricExportInterval))),
	)

	logs, err := otlploggrpc.New(ctx, otlploggrpc.WithInsecure(), otlploggrpc.WithEndpoint(endpoint))
	if err != nil {
		return fmt.Errorf("create otel log exporter: %w", err)
	}
	t.logs = log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(logs)),
	)

	return nil
}

// shutdown flushes whatever providers were created, within telemetryShutdownWindow.
func (t *telemetry) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, telemetryShutdownWindow)
	defer cancel()

	var errs []error
	if t.tracer != nil {
		errs = append(errs, t.tracer.Shutdown(ctx))
	}
	if t.meter != nil {
		errs = append(errs, t.meter.Shutdown(ctx))
	}
	if t.logs != nil {
		errs = append(errs, t.logs.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// fanoutHandler hands every record to each handler that accepts its level.
type fanoutHandler []slog.Handler

func newFanoutHandler(handlers ...slog.Handler) fanoutHandler {
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h fanoutHandler) each(fn func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = fn(handler)
	}
	return next
}
