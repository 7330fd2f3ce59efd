// Package observability wires OpenTelemetry tracing and metrics for the
// dispatch pipeline.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the telemetry provider.
type Config struct {
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	ServiceName    string            `json:"service_name" yaml:"service_name"`
	ServiceVersion string            `json:"service_version" yaml:"service_version"`
	Environment    string            `json:"environment" yaml:"environment"`
	OTLPEndpoint   string            `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPHeaders    map[string]string `json:"otlp_headers" yaml:"otlp_headers"`
	SampleRate     float64           `json:"sample_rate" yaml:"sample_rate"`
}

// TelemetryProvider provides tracing and metrics for dispatch operations.
type TelemetryProvider struct {
	config        *Config
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	messagesDispatched metric.Int64Counter
	channelsFailed     metric.Int64Counter
	dispatchDuration   metric.Float64Histogram
}

// NewTelemetryProvider creates a telemetry provider. A disabled config yields
// no-op tracer and meter so call sites never branch.
func NewTelemetryProvider(cfg *Config) (*TelemetryProvider, error) {
	if cfg == nil {
		cfg = &Config{
			ServiceName:    "msgbus",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			OTLPEndpoint:   "http://localhost:4318",
			SampleRate:     1.0,
			Enabled:        false,
		}
	}

	tp := &TelemetryProvider{config: cfg}

	if !cfg.Enabled {
		tp.tracer = otel.Tracer("msgbus")
		tp.meter = otel.Meter("msgbus")
		return tp, nil
	}

	if err := tp.initTracing(); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if err := tp.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return tp, nil
}

func (tp *TelemetryProvider) initTracing() error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(tp.config.ServiceName),
			semconv.ServiceVersion(tp.config.ServiceVersion),
			semconv.DeploymentEnvironment(tp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptrace.New(context.Background(),
		otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(tp.config.OTLPEndpoint),
			otlptracehttp.WithHeaders(tp.config.OTLPHeaders),
		),
	)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	tp.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tp.config.SampleRate)),
	)

	otel.SetTracerProvider(tp.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp.tracer = otel.Tracer("msgbus",
		trace.WithInstrumentationVersion("1.0.0"),
		trace.WithSchemaURL(semconv.SchemaURL),
	)
	return nil
}

func (tp *TelemetryProvider) initMetrics() error {
	tp.meter = otel.Meter("msgbus",
		metric.WithInstrumentationVersion("1.0.0"),
		metric.WithSchemaURL(semconv.SchemaURL),
	)

	var err error

	tp.messagesDispatched, err = tp.meter.Int64Counter(
		"msgbus_messages_dispatched_total",
		metric.WithDescription("Total number of messages dispatched"),
	)
	if err != nil {
		return fmt.Errorf("create messages_dispatched counter: %w", err)
	}

	tp.channelsFailed, err = tp.meter.Int64Counter(
		"msgbus_channels_failed_total",
		metric.WithDescription("Total number of per-channel send failures"),
	)
	if err != nil {
		return fmt.Errorf("create channels_failed counter: %w", err)
	}

	tp.dispatchDuration, err = tp.meter.Float64Histogram(
		"msgbus_dispatch_duration_seconds",
		metric.WithDescription("Duration of full message dispatches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create dispatch_duration histogram: %w", err)
	}
	return nil
}

// TraceDispatch creates a span covering one full message dispatch.
func (tp *TelemetryProvider) TraceDispatch(ctx context.Context, messageUUID, sender, category string) (context.Context, trace.Span) {
	return tp.traceOperation(ctx, "msgbus.dispatch",
		attribute.String("msgbus.message.uuid", messageUUID),
		attribute.String("msgbus.sender", sender),
		attribute.String("msgbus.category", category),
	)
}

// TraceChannelSend creates a span covering one channel's send.
func (tp *TelemetryProvider) TraceChannelSend(ctx context.Context, messageUUID, channel string, recipients int) (context.Context, trace.Span) {
	return tp.traceOperation(ctx, "msgbus.send",
		attribute.String("msgbus.message.uuid", messageUUID),
		attribute.String("msgbus.channel", channel),
		attribute.Int("msgbus.recipients.count", recipients),
	)
}

func (tp *TelemetryProvider) traceOperation(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tp.tracer.Start(ctx, name,
		trace.WithAttributes(attributes...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordDispatch records a completed dispatch and its duration.
func (tp *TelemetryProvider) RecordDispatch(ctx context.Context, status string, duration time.Duration) {
	if tp.messagesDispatched != nil {
		tp.messagesDispatched.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
	if tp.dispatchDuration != nil {
		tp.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordChannelFailure records a failed channel send.
func (tp *TelemetryProvider) RecordChannelFailure(ctx context.Context, channel, errorType string) {
	if tp.channelsFailed != nil {
		tp.channelsFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("error_type", errorType),
		))
	}
}

// SetSpanError records an error on a span.
func (tp *TelemetryProvider) SetSpanError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful.
func (tp *TelemetryProvider) SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// Shutdown flushes and stops the trace provider.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	if tp.traceProvider != nil {
		return tp.traceProvider.Shutdown(ctx)
	}
	return nil
}
