// Package observability provides OpenTelemetry tracing and RED metrics for
// validation sessions and evaluator calls.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/crewclaims/internal/model"
)

const instrumentationName = "github.com/ppiankov/crewclaims"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	Enabled        bool
	Insecure       bool // Use insecure connection (dev only)
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "crewclaims",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// ConfigFromModel converts model.TelemetryConfig to an observability Config
func ConfigFromModel(tc model.TelemetryConfig, version string) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = tc.Enabled
	cfg.Insecure = tc.Insecure
	cfg.SampleRate = tc.SampleRate
	cfg.ServiceVersion = version
	if tc.ServiceName != "" {
		cfg.ServiceName = tc.ServiceName
	}
	if tc.Endpoint != "" {
		cfg.OTLPEndpoint = tc.Endpoint
	}
	if tc.Environment != "" {
		cfg.Environment = tc.Environment
	}
	return cfg
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics (Rate, Errors, Duration)
	evaluations    metric.Int64Counter
	evaluatorErrs  metric.Int64Counter
	evalDuration   metric.Float64Histogram
	sessions       metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
}

// New creates a new observability provider. When config.Enabled is false the
// provider records into the global (no-op by default) tracer and meter.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initREDMetrics(); err != nil {
			return nil, fmt.Errorf("failed to init RED metrics: %w", err)
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)

	return p, nil
}

// NewWithProviders builds a Provider on caller-owned tracer and meter
// providers, e.g. in-memory SDK providers in tests.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)

	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error

	p.evaluations, err = p.meter.Int64Counter("crewclaims.evaluations.total",
		metric.WithDescription("Evaluator invocations by agent and final status"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return err
	}

	p.evaluatorErrs, err = p.meter.Int64Counter("crewclaims.evaluator.errors.total",
		metric.WithDescription("Evaluator invocations that ended in error, timeout or panic"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.evalDuration, err = p.meter.Float64Histogram("crewclaims.evaluation.duration",
		metric.WithDescription("Evaluator wall clock duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	p.sessions, err = p.meter.Int64Counter("crewclaims.sessions.total",
		metric.WithDescription("Validation sessions by overall status"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	p.activeSessions, err = p.meter.Int64UpDownCounter("crewclaims.sessions.active",
		metric.WithDescription("Validation sessions currently in flight"),
		metric.WithUnit("{session}"),
	)
	return err
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordEvaluation records one finished evaluator call. Safe on a nil Provider.
func (p *Provider) RecordEvaluation(ctx context.Context, agent model.AgentType, status model.AgentStatus, d time.Duration) {
	if p == nil || p.evaluations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", string(agent)),
		attribute.String("status", string(status)),
	)
	p.evaluations.Add(ctx, 1, attrs)
	p.evalDuration.Record(ctx, d.Seconds(), attrs)
	if status == model.StatusError {
		p.evaluatorErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", string(agent))))
	}
}

// TrackSession marks a session in flight and returns the func that records
// its outcome. Safe on a nil Provider.
func (p *Provider) TrackSession(ctx context.Context) func(status model.OverallStatus, timedOut bool) {
	if p == nil || p.sessions == nil {
		return func(model.OverallStatus, bool) {}
	}
	p.activeSessions.Add(ctx, 1)
	return func(status model.OverallStatus, timedOut bool) {
		p.activeSessions.Add(ctx, -1)
		p.sessions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.Bool("timed_out", timedOut),
		))
	}
}
