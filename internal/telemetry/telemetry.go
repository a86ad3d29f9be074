// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/insightlab/causal/backend/pkg/causal"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/insightlab/causal/backend"

// Config selects where spans go. Without Stdout the global no-op provider
// stays in place.
type Config struct {
	ServiceName string
	Stdout      bool
	Output      io.Writer
}

// Init installs the tracer provider. The returned shutdown flushes pending
// spans and must be called on exit.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, errors.New("telemetry: nil context")
	}
	if !cfg.Stdout {
		return func(context.Context) error { return nil }, nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartAnalyze opens the causal.analyze span for q.
func StartAnalyze(ctx context.Context, q causal.Query) (context.Context, trace.Span) {
	return tracer().Start(ctx, "causal.analyze", trace.WithAttributes(
		attribute.String("causal.start", q.StartNode),
		attribute.String("causal.end", q.EndNode),
		attribute.String("causal.start_direction", q.StartDirection),
		attribute.Int("causal.max_hops", q.MaxHops),
		attribute.Float64("causal.min_strength", q.MinStrength),
	))
}

// EndAnalyze annotates span with the outcome and ends it. A non-nil err
// marks an analysis that was abandoned.
func EndAnalyze(span trace.Span, res causal.AnalysisResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	span.SetAttributes(
		attribute.String("causal.direction", res.Direction),
		attribute.Int("causal.path_count", res.PathCount),
		attribute.Float64("causal.score", res.Score),
	)
	span.End()
}

// StartReload opens the causal.reload span. trigger names what caused it.
func StartReload(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "causal.reload", trace.WithAttributes(
		attribute.String("causal.trigger", trigger),
	))
}

func EndReload(span trace.Span, g *causal.Graph, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if g != nil {
		span.SetAttributes(
			attribute.Int64("causal.graph_version", int64(g.Version())),
			attribute.Int("causal.nodes", g.NodeCount()),
			attribute.Int("causal.edges", g.EdgeCount()),
		)
	}
	span.End()
}
