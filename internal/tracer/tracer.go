package tracer

import (
	"context"
	"fmt"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// Stage names one step of the execution pipeline
type Stage string

const (
	StageCacheLookup Stage = "cache_lookup"
	StageCompile     Stage = "compile"
	StageAudit       Stage = "audit"
	StageResolve     Stage = "resolve"
	StageSandbox     Stage = "sandbox"
	StageService     Stage = "service_call"
)

// AttemptStage is the stage covering one executor attempt
func AttemptStage(t skill.ExecutorType) Stage {
	return Stage("executor." + string(t))
}

// ExecutionTracer interface for tracing execution events
type ExecutionTracer interface {
	// TraceExecutionStart records when a request enters the orchestrator
	TraceExecutionStart(ctx context.Context, req *skill.ExecutionRequest) (context.Context, error)

	// TraceExecutionEnd records the final response for a request
	TraceExecutionEnd(ctx context.Context, req *skill.ExecutionRequest, resp *skill.ExecutionResponse, duration time.Duration) error

	// TraceStageStart records when a pipeline stage starts. The returned
	// context must be passed to the matching TraceStageEnd.
	TraceStageStart(ctx context.Context, requestID string, stage Stage) (context.Context, error)

	// TraceStageEnd records when a pipeline stage completes
	TraceStageEnd(ctx context.Context, requestID string, stage Stage, duration time.Duration, err error) error

	// TraceFallback records a switch from a failed executor type to another
	TraceFallback(ctx context.Context, requestID string, from, to skill.ExecutorType, cause error) error

	// Close closes the tracer and flushes any pending data
	Close() error
}

// TraceEventType represents the type of trace event
type TraceEventType string

const (
	TraceEventExecutionStart TraceEventType = "ExecutionStart"
	TraceEventExecutionEnd   TraceEventType = "ExecutionEnd"
	TraceEventStageStart     TraceEventType = "StageStart"
	TraceEventStageEnd       TraceEventType = "StageEnd"
	TraceEventFallback       TraceEventType = "Fallback"
)

// NopTracer discards every event
type NopTracer struct{}

func (NopTracer) TraceExecutionStart(ctx context.Context, _ *skill.ExecutionRequest) (context.Context, error) {
	return ctx, nil
}

func (NopTracer) TraceExecutionEnd(context.Context, *skill.ExecutionRequest, *skill.ExecutionResponse, time.Duration) error {
	return nil
}

func (NopTracer) TraceStageStart(ctx context.Context, _ string, _ Stage) (context.Context, error) {
	return ctx, nil
}

func (NopTracer) TraceStageEnd(context.Context, string, Stage, time.Duration, error) error {
	return nil
}

func (NopTracer) TraceFallback(context.Context, string, skill.ExecutorType, skill.ExecutorType, error) error {
	return nil
}

func (NopTracer) Close() error { return nil }

// MultiTracer combines multiple tracers
type MultiTracer struct {
	tracers []ExecutionTracer
}

// NewMultiTracer creates a new multi-tracer that forwards events to all tracers
func NewMultiTracer(tracers ...ExecutionTracer) *MultiTracer {
	return &MultiTracer{tracers: tracers}
}

func (m *MultiTracer) TraceExecutionStart(ctx context.Context, req *skill.ExecutionRequest) (context.Context, error) {
	var lastErr error
	for _, tracer := range m.tracers {
		next, err := tracer.TraceExecutionStart(ctx, req)
		if err != nil {
			logger.Warnf("[MultiTracer] Failed to trace execution start: tracer=%T, request=%s, error=%v",
				tracer, req.ID, err)
			lastErr = err
			continue
		}
		ctx = next
	}
	return ctx, lastErr
}

func (m *MultiTracer) TraceExecutionEnd(ctx context.Context, req *skill.ExecutionRequest, resp *skill.ExecutionResponse, duration time.Duration) error {
	var lastErr error
	for _, tracer := range m.tracers {
		if err := tracer.TraceExecutionEnd(ctx, req, resp, duration); err != nil {
			logger.Warnf("[MultiTracer] Failed to trace execution end: tracer=%T, request=%s, error=%v",
				tracer, req.ID, err)
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiTracer) TraceStageStart(ctx context.Context, requestID string, stage Stage) (context.Context, error) {
	var lastErr error
	for _, tracer := range m.tracers {
		next, err := tracer.TraceStageStart(ctx, requestID, stage)
		if err != nil {
			logger.Warnf("[MultiTracer] Failed to trace stage start: tracer=%T, request=%s, stage=%s, error=%v",
				tracer, requestID, stage, err)
			lastErr = err
			continue
		}
		ctx = next
	}
	return ctx, lastErr
}

func (m *MultiTracer) TraceStageEnd(ctx context.Context, requestID string, stage Stage, duration time.Duration, stageErr error) error {
	var lastErr error
	for _, tracer := range m.tracers {
		if err := tracer.TraceStageEnd(ctx, requestID, stage, duration, stageErr); err != nil {
			logger.Warnf("[MultiTracer] Failed to trace stage end: tracer=%T, request=%s, stage=%s, error=%v",
				tracer, requestID, stage, err)
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiTracer) TraceFallback(ctx context.Context, requestID string, from, to skill.ExecutorType, cause error) error {
	var lastErr error
	for _, tracer := range m.tracers {
		if err := tracer.TraceFallback(ctx, requestID, from, to, cause); err != nil {
			logger.Warnf("[MultiTracer] Failed to trace fallback: tracer=%T, request=%s, from=%s, to=%s, error=%v",
				tracer, requestID, from, to, err)
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiTracer) Close() error {
	var errors []error
	for _, tracer := range m.tracers {
		if err := tracer.Close(); err != nil {
			logger.Warnf("[MultiTracer] Failed to close tracer: tracer=%T, error=%v", tracer, err)
			errors = append(errors, err)
			// Continue closing other tracers
		}
	}
	if len(errors) > 0 {
		return fmt.Errorf("failed to close %d tracer(s): %v", len(errors), errors)
	}
	return nil
}

// Span is a helper for the common start/end pair around one stage
func Span(ctx context.Context, t ExecutionTracer, requestID string, stage Stage, fn func(ctx context.Context) error) error {
	start := time.Now()
	stageCtx, _ := t.TraceStageStart(ctx, requestID, stage)
	err := fn(stageCtx)
	_ = t.TraceStageEnd(stageCtx, requestID, stage, time.Since(start), err)
	return err
}
