package tracer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hb-chen/skillexec/internal/skill"
)

const instrumentationName = "github.com/hb-chen/skillexec"

// OTelTracer turns executions and stages into OpenTelemetry spans
type OTelTracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewOTelTracer creates a tracer on provider. shutdown, if set, is called by
// Close to flush the provider.
func NewOTelTracer(provider trace.TracerProvider, shutdown func(context.Context) error) *OTelTracer {
	return &OTelTracer{
		tracer:   provider.Tracer(instrumentationName),
		shutdown: shutdown,
	}
}

func (o *OTelTracer) TraceExecutionStart(ctx context.Context, req *skill.ExecutionRequest) (context.Context, error) {
	ctx, _ = o.tracer.Start(ctx, "skill.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("skill.request_id", req.ID),
			attribute.String("skill.name", req.SkillName),
		),
	)
	return ctx, nil
}

func (o *OTelTracer) TraceExecutionEnd(ctx context.Context, req *skill.ExecutionRequest, resp *skill.ExecutionResponse, duration time.Duration) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int64("skill.duration_ms", duration.Milliseconds()))
	if resp != nil {
		span.SetAttributes(
			attribute.Bool("skill.success", resp.Success),
			attribute.String("skill.executor", string(resp.Metadata.ExecutionType)),
			attribute.Bool("skill.cache_hit", resp.Metadata.CacheHit),
			attribute.Int64("skill.token_usage", resp.Metadata.TokenUsage),
		)
		if len(resp.Warnings) > 0 {
			span.SetAttributes(attribute.StringSlice("skill.warnings", resp.Warnings))
		}
	}
	if resp == nil || !resp.Success {
		msg := "execution failed"
		if resp != nil && resp.Error != nil {
			msg = resp.Error.Message
			span.SetAttributes(attribute.String("skill.error_code", resp.Error.Code))
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return nil
}

func (o *OTelTracer) TraceStageStart(ctx context.Context, requestID string, stage Stage) (context.Context, error) {
	ctx, _ = o.tracer.Start(ctx, "skill."+string(stage),
		trace.WithAttributes(
			attribute.String("skill.request_id", requestID),
			attribute.String("skill.stage", string(stage)),
		),
	)
	return ctx, nil
}

func (o *OTelTracer) TraceStageEnd(ctx context.Context, requestID string, stage Stage, duration time.Duration, err error) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int64("skill.duration_ms", duration.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return nil
}

func (o *OTelTracer) TraceFallback(ctx context.Context, requestID string, from, to skill.ExecutorType, cause error) error {
	attrs := []attribute.KeyValue{
		attribute.String("skill.fallback.from", string(from)),
		attribute.String("skill.fallback.to", string(to)),
	}
	if cause != nil {
		attrs = append(attrs, attribute.String("skill.fallback.cause", cause.Error()))
	}
	trace.SpanFromContext(ctx).AddEvent("skill.fallback", trace.WithAttributes(attrs...))
	return nil
}

func (o *OTelTracer) Close() error {
	if o.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.shutdown(ctx)
}
