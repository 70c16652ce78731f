package tracer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/pkg/logger"
)

func newOTel(t *testing.T) (*OTelTracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewOTelTracer(provider, provider.Shutdown), recorder
}

func TestOTelTracerSpans(t *testing.T) {
	tr, recorder := newOTel(t)
	req := &skill.ExecutionRequest{ID: "r1", SkillName: "doubler"}

	ctx, err := tr.TraceExecutionStart(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, Span(ctx, tr, req.ID, StageCompile, func(context.Context) error { return nil }))
	stageErr := errors.New("boom")
	assert.Equal(t, stageErr, Span(ctx, tr, req.ID, StageSandbox, func(context.Context) error { return stageErr }))
	require.NoError(t, tr.TraceFallback(ctx, req.ID, skill.ExecutorService, skill.ExecutorDirect, stageErr))

	resp := &skill.ExecutionResponse{Success: true, Metadata: skill.ExecutionMetadata{ExecutionType: skill.ExecutorDirect}}
	require.NoError(t, tr.TraceExecutionEnd(ctx, req, resp, time.Millisecond))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "skill.compile", spans[0].Name())
	assert.Equal(t, "skill.sandbox", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "skill.execute", spans[2].Name())
	assert.Equal(t, codes.Ok, spans[2].Status().Code)

	root := spans[2]
	assert.Equal(t, root.SpanContext().SpanID(), spans[0].Parent().SpanID())
	require.Len(t, root.Events(), 1)
	assert.Equal(t, "skill.fallback", root.Events()[0].Name)

	require.NoError(t, tr.Close())
}

func TestOTelTracerFailedExecution(t *testing.T) {
	tr, recorder := newOTel(t)
	req := &skill.ExecutionRequest{ID: "r2", SkillName: "x"}
	ctx, _ := tr.TraceExecutionStart(context.Background(), req)
	resp := &skill.ExecutionResponse{Error: &skill.ErrorInfo{Code: "COMPILATION_ERROR", Message: "bad"}}
	require.NoError(t, tr.TraceExecutionEnd(ctx, req, resp, time.Millisecond))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "bad", spans[0].Status().Description)
}

type failingTracer struct{ NopTracer }

func (failingTracer) TraceStageEnd(context.Context, string, Stage, time.Duration, error) error {
	return errors.New("sink down")
}

func (failingTracer) Close() error { return errors.New("close failed") }

func TestMultiTracerBestEffort(t *testing.T) {
	tr, recorder := newOTel(t)
	multi := NewMultiTracer(failingTracer{}, tr)

	ctx, err := multi.TraceStageStart(context.Background(), "r3", StageAudit)
	require.NoError(t, err)
	err = multi.TraceStageEnd(ctx, "r3", StageAudit, time.Millisecond, nil)
	assert.EqualError(t, err, "sink down")
	assert.Len(t, recorder.Ended(), 1, "the healthy tracer still received the event")

	assert.Error(t, multi.Close())
}

func TestLogTracerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.ReplaceLogger(zap.New(core))
	t.Cleanup(func() { logger.ReplaceLogger(zap.NewNop()) })

	req := &skill.ExecutionRequest{ID: "r4", SkillName: "s"}
	ok := &skill.ExecutionResponse{Success: true}

	minimal := NewLogTracer("minimal")
	_, _ = minimal.TraceExecutionStart(context.Background(), req)
	_ = minimal.TraceExecutionEnd(context.Background(), req, ok, time.Millisecond)
	_, _ = minimal.TraceStageStart(context.Background(), req.ID, StageCompile)
	assert.Equal(t, 0, logs.Len())

	_ = minimal.TraceStageEnd(context.Background(), req.ID, StageCompile, time.Millisecond, errors.New("x"))
	_ = minimal.TraceFallback(context.Background(), req.ID, skill.ExecutorService, skill.ExecutorDirect, nil)
	assert.Equal(t, 2, logs.Len())

	detailed := NewLogTracer("detailed")
	_, _ = detailed.TraceStageStart(context.Background(), req.ID, StageCompile)
	_ = detailed.TraceStageEnd(context.Background(), req.ID, StageCompile, time.Millisecond, nil)
	assert.Equal(t, 1, logs.FilterMessage("[Tracer] StageStart").Len())
	assert.Equal(t, 2, logs.FilterMessage("[Tracer] StageEnd").Len())
}

func TestAttemptStage(t *testing.T) {
	assert.Equal(t, Stage("executor.direct"), AttemptStage(skill.ExecutorDirect))
}
