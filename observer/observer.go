// Package observer provides OTEL-based observability for sandbox lifecycle
// operations.
//
// It wraps the lifecycle manager, reaper, and provider with instrumented
// versions that emit traces, metrics, and logs via OpenTelemetry. Users
// export to any OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/lagoon/observer"

// Attribute keys shared by the wrappers.
var (
	AttrUserID    = attribute.Key("sandbox.user_id")
	AttrSandboxID = attribute.Key("sandbox.id")
	AttrState     = attribute.Key("sandbox.state")
	AttrOp        = attribute.Key("sandbox.op")
)

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	Resolves    metric.Int64Counter
	Creates     metric.Int64Counter
	Starts      metric.Int64Counter
	Deletes     metric.Int64Counter
	Fetches     metric.Int64Counter
	ResolveErrs metric.Int64Counter

	// Histograms
	ResolveDuration metric.Float64Histogram
	SweepDuration   metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("lagoon")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	resolves, err := meter.Int64Counter("sandbox.resolves",
		metric.WithDescription("Sandbox resolution count"),
		metric.WithUnit("{resolution}"))
	if err != nil {
		return nil, err
	}

	creates, err := meter.Int64Counter("sandbox.creates",
		metric.WithDescription("Remote sandbox allocations"),
		metric.WithUnit("{sandbox}"))
	if err != nil {
		return nil, err
	}

	starts, err := meter.Int64Counter("sandbox.starts",
		metric.WithDescription("Stopped/archived sandbox restarts"),
		metric.WithUnit("{start}"))
	if err != nil {
		return nil, err
	}

	deletes, err := meter.Int64Counter("sandbox.deletes",
		metric.WithDescription("Remote sandbox deletions (reaper and manual)"),
		metric.WithUnit("{sandbox}"))
	if err != nil {
		return nil, err
	}

	fetches, err := meter.Int64Counter("sandbox.fetches",
		metric.WithDescription("Provider state fetches"),
		metric.WithUnit("{fetch}"))
	if err != nil {
		return nil, err
	}

	resolveErrs, err := meter.Int64Counter("sandbox.resolve.errors",
		metric.WithDescription("Failed sandbox resolutions"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	resolveDuration, err := meter.Float64Histogram("sandbox.resolve.duration",
		metric.WithDescription("Resolve latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram("sandbox.sweep.duration",
		metric.WithDescription("Reaper sweep latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          tracer,
		Meter:           meter,
		Logger:          logger,
		Resolves:        resolves,
		Creates:         creates,
		Starts:          starts,
		Deletes:         deletes,
		Fetches:         fetches,
		ResolveErrs:     resolveErrs,
		ResolveDuration: resolveDuration,
		SweepDuration:   sweepDuration,
	}, nil
}
