package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used by legion packages
const InstrumentationName = "github.com/legion/legion"

// Standard span attribute keys
const (
	AttrPipelineID = attribute.Key("legion.pipeline.id")
	AttrTarget     = attribute.Key("legion.target")
	AttrTargetType = attribute.Key("legion.target_type")
	AttrDepth      = attribute.Key("legion.depth")
	AttrStage      = attribute.Key("legion.stage")
	AttrAgentID    = attribute.Key("legion.agent.id")
	AttrAgentType  = attribute.Key("legion.agent.type")
	AttrSwarmID    = attribute.Key("legion.swarm.id")
)

// Config holds tracer configuration
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	PrettyPrint bool   `yaml:"pretty_print"`
}

// DefaultConfig returns tracing disabled
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "legion",
	}
}

// Provider owns the process tracer provider and its shutdown
type Provider struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Setup builds a tracer provider exporting spans to w as JSON. With tracing
// disabled it returns a no-op provider.
func Setup(cfg Config, w io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return &Provider{provider: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns the legion tracer from this provider
func (p *Provider) Tracer() trace.Tracer {
	return p.provider.Tracer(InstrumentationName)
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// NoopTracer returns a tracer that records nothing
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(InstrumentationName)
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
