package tracer

import (
	"context"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// LogTracer implements ExecutionTracer using structured logging
type LogTracer struct {
	level string // minimal, standard, detailed
}

// NewLogTracer creates a new log tracer
func NewLogTracer(level string) *LogTracer {
	return &LogTracer{level: level}
}

func (l *LogTracer) TraceExecutionStart(ctx context.Context, req *skill.ExecutionRequest) (context.Context, error) {
	if l.level == "minimal" {
		return ctx, nil
	}
	logger.Infow("[Tracer] "+string(TraceEventExecutionStart), "request", req.ID, "skill", req.SkillName)
	return ctx, nil
}

func (l *LogTracer) TraceExecutionEnd(ctx context.Context, req *skill.ExecutionRequest, resp *skill.ExecutionResponse, duration time.Duration) error {
	status := "success"
	if resp == nil || !resp.Success {
		status = "failed"
	}
	if l.level == "minimal" && status == "success" {
		return nil
	}
	kv := []interface{}{"request", req.ID, "skill", req.SkillName, "status", status, "duration", duration}
	if resp != nil {
		kv = append(kv, "executor", resp.Metadata.ExecutionType, "cacheHit", resp.Metadata.CacheHit)
		if resp.Error != nil {
			kv = append(kv, "errorCode", resp.Error.Code, "error", resp.Error.Message)
		}
		if len(resp.Warnings) > 0 {
			kv = append(kv, "warnings", resp.Warnings)
		}
	}
	if status == "failed" {
		logger.Warnw("[Tracer] "+string(TraceEventExecutionEnd), kv...)
		return nil
	}
	logger.Infow("[Tracer] "+string(TraceEventExecutionEnd), kv...)
	return nil
}

func (l *LogTracer) TraceStageStart(ctx context.Context, requestID string, stage Stage) (context.Context, error) {
	if l.level != "detailed" {
		return ctx, nil
	}
	logger.Debugw("[Tracer] "+string(TraceEventStageStart), "request", requestID, "stage", stage)
	return ctx, nil
}

func (l *LogTracer) TraceStageEnd(ctx context.Context, requestID string, stage Stage, duration time.Duration, err error) error {
	if err != nil {
		// Always log failures regardless of level
		logger.Errorw("[Tracer] "+string(TraceEventStageEnd), "request", requestID, "stage", stage, "duration", duration, "error", err)
		return nil
	}
	if l.level != "detailed" {
		return nil
	}
	logger.Debugw("[Tracer] "+string(TraceEventStageEnd), "request", requestID, "stage", stage, "duration", duration)
	return nil
}

func (l *LogTracer) TraceFallback(ctx context.Context, requestID string, from, to skill.ExecutorType, cause error) error {
	logger.Warnw("[Tracer] "+string(TraceEventFallback), "request", requestID, "from", from, "to", to, "cause", cause)
	return nil
}

func (l *LogTracer) Close() error {
	return nil
}
