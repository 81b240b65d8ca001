// Package telemetry wraps the OpenTelemetry tracer and meter used by the
// coordinator. Both come from the otel globals; nothing is exported unless
// the process installs providers via otel.SetTracerProvider and
// otel.SetMeterProvider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/raysh454/perfsandbox"

// Instruments records run and tool spans plus their metrics.
type Instruments struct {
	tracer       trace.Tracer
	runs         metric.Int64Counter
	toolRuns     metric.Int64Counter
	toolDuration metric.Float64Histogram
}

// New builds Instruments from the global providers.
func New() *Instruments {
	return NewWith(otel.Tracer(instrumentationName), otel.Meter(instrumentationName))
}

// NewWith builds Instruments from an explicit tracer and meter. Instruments
// that fail to register are replaced by no-ops.
func NewWith(tracer trace.Tracer, meter metric.Meter) *Instruments {
	fallback := metricnoop.NewMeterProvider().Meter(instrumentationName)

	runs, err := meter.Int64Counter("perfsandbox.runs",
		metric.WithDescription("Runs by terminal status."))
	if err != nil {
		runs, _ = fallback.Int64Counter("perfsandbox.runs")
	}
	toolRuns, err := meter.Int64Counter("perfsandbox.tool.runs",
		metric.WithDescription("Tool runs by code and status."))
	if err != nil {
		toolRuns, _ = fallback.Int64Counter("perfsandbox.tool.runs")
	}
	toolDuration, err := meter.Float64Histogram("perfsandbox.tool.duration",
		metric.WithDescription("Tool run duration."),
		metric.WithUnit("s"))
	if err != nil {
		toolDuration, _ = fallback.Float64Histogram("perfsandbox.tool.duration")
	}

	return &Instruments{tracer: tracer, runs: runs, toolRuns: toolRuns, toolDuration: toolDuration}
}

// StartRun opens the span that covers a whole session.
func (i *Instruments) StartRun(ctx context.Context, sessionID, target string, codes []string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "perfsandbox.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("run.target", target),
			attribute.StringSlice("run.tools", codes),
		))
}

// EndRun closes a run span and counts the run under status.
func (i *Instruments) EndRun(ctx context.Context, span trace.Span, status string, err error) {
	i.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	finish(span, err)
}

// StartTool opens a child span for one tool.
func (i *Instruments) StartTool(ctx context.Context, code string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "perfsandbox.tool",
		trace.WithAttributes(attribute.String("tool.code", code)))
}

// EndTool closes a tool span and records how long the tool took.
func (i *Instruments) EndTool(ctx context.Context, span trace.Span, code, status string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool.code", code), attribute.String("status", status))
	i.toolRuns.Add(ctx, 1, attrs)
	i.toolDuration.Record(ctx, elapsed.Seconds(), attrs)
	span.SetAttributes(attribute.String("tool.status", status))
	finish(span, err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
