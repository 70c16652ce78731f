// Package orchestrator routes execution requests to executors by type and
// walks the configured fallback chains when an executor fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/metrics"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/internal/tracer"
	"github.com/hb-chen/skillexec/pkg/logger"
)

var (
	// ErrExecutorNotFound is returned when no executor is registered for a type
	ErrExecutorNotFound = errors.New("executor not registered")

	// ErrFallbackCycle is returned when a fallback chain leads back to a type
	// already on the current path
	ErrFallbackCycle = errors.New("fallback cycle")
)

// CycleError names the executor types forming a fallback cycle
type CycleError struct {
	Path []skill.ExecutorType
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, t := range e.Path {
		parts[i] = string(t)
	}
	return fmt.Sprintf("%v: %s", ErrFallbackCycle, strings.Join(parts, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrFallbackCycle
}

// Executor runs a request with one strategy. A failed execution returns a
// response describing the failure together with the error.
type Executor interface {
	Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error)
}

// DefaultFallbacks returns the fallback chains used when none are configured
func DefaultFallbacks() map[skill.ExecutorType][]skill.ExecutorType {
	return map[skill.ExecutorType][]skill.ExecutorType{
		skill.ExecutorService:      {skill.ExecutorDirect, skill.ExecutorInternal},
		skill.ExecutorDistributed:  {skill.ExecutorService, skill.ExecutorDirect},
		skill.ExecutorDirect:       {skill.ExecutorInternal},
		skill.ExecutorPreprocessor: {skill.ExecutorInternal},
		skill.ExecutorStatic:       {skill.ExecutorDirect},
	}
}

// Options configures an Orchestrator
type Options struct {
	Registry *skill.Registry
	Metrics  *metrics.Collector
	Tracer   tracer.ExecutionTracer
	// Fallbacks replaces DefaultFallbacks when non-nil
	Fallbacks map[skill.ExecutorType][]skill.ExecutorType
}

// Orchestrator dispatches requests to executors
type Orchestrator struct {
	registry  *skill.Registry
	executors map[skill.ExecutorType]Executor
	fallbacks map[skill.ExecutorType][]skill.ExecutorType
	metrics   *metrics.Collector
	tracer    tracer.ExecutionTracer
	mu        sync.RWMutex
	log       *zap.Logger
}

// New creates an orchestrator with no executors registered
func New(opts Options) *Orchestrator {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector("", nil, nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracer.NopTracer{}
	}
	fallbacks := DefaultFallbacks()
	if opts.Fallbacks != nil {
		fallbacks = make(map[skill.ExecutorType][]skill.ExecutorType, len(opts.Fallbacks))
		for t, chain := range opts.Fallbacks {
			fallbacks[t] = slices.Clone(chain)
		}
	}
	return &Orchestrator{
		registry:  opts.Registry,
		executors: make(map[skill.ExecutorType]Executor),
		fallbacks: fallbacks,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		log:       logger.Named("orchestrator"),
	}
}

// RegisterExecutor installs the executor serving type t
func (o *Orchestrator) RegisterExecutor(t skill.ExecutorType, e Executor) error {
	if !t.Valid() {
		return fmt.Errorf("unknown executor type: %s", t)
	}
	if e == nil {
		return fmt.Errorf("nil executor for type %s", t)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executors[t] = e
	return nil
}

// SetFallbacks replaces the fallback chain of type t. Cycles are allowed
// here and detected when a request walks them.
func (o *Orchestrator) SetFallbacks(t skill.ExecutorType, chain []skill.ExecutorType) error {
	for _, c := range append([]skill.ExecutorType{t}, chain...) {
		if !c.Valid() {
			return fmt.Errorf("unknown executor type: %s", c)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks[t] = slices.Clone(chain)
	return nil
}

// Fallbacks returns the fallback chain of type t
func (o *Orchestrator) Fallbacks(t skill.ExecutorType) []skill.ExecutorType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.fallbacks[t])
}

// Executors lists the registered executor types
func (o *Orchestrator) Executors() []skill.ExecutorType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	types := make([]skill.ExecutorType, 0, len(o.executors))
	for _, t := range skill.ExecutorTypes {
		if _, ok := o.executors[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Registry returns the skill registry requests are resolved against
func (o *Orchestrator) Registry() *skill.Registry {
	return o.registry
}

// GetExecutionStats returns the per-type execution statistics
func (o *Orchestrator) GetExecutionStats() []metrics.TypeStats {
	return o.metrics.Snapshot()
}

// Execute runs req with the executor the skill declares, falling back along
// the configured chains. The response is never nil.
func (o *Orchestrator) Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	start := time.Now()
	if req == nil {
		err := &skillerr.ExecutionError{Message: "execution request is nil"}
		return failure(err, "", start), err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, _ = o.tracer.TraceExecutionStart(ctx, req)

	resp, err := o.execute(ctx, req, start)

	_ = o.tracer.TraceExecutionEnd(ctx, req, resp, time.Since(start))
	if err != nil {
		o.log.Debug("execution failed",
			zap.String("request_id", req.ID),
			zap.String("skill", req.SkillName),
			zap.String("kind", string(skillerr.KindOf(err))),
			zap.Error(err),
		)
	}
	return resp, err
}

func (o *Orchestrator) execute(ctx context.Context, req *skill.ExecutionRequest, start time.Time) (*skill.ExecutionResponse, error) {
	primary, err := o.primaryType(req.SkillName)
	if err != nil {
		return failure(err, "", start), err
	}
	return o.executeWithFallback(ctx, primary, req, nil, map[skill.ExecutorType]bool{})
}

func (o *Orchestrator) primaryType(name string) (skill.ExecutorType, error) {
	if o.registry == nil {
		return skill.ExecutorDirect, nil
	}
	meta, err := o.registry.Metadata(name)
	if err != nil {
		return "", &skillerr.ExecutionError{Message: "load skill", Cause: err, Context: map[string]any{"skill": name}}
	}
	return meta.PrimaryExecutor(), nil
}

// executeWithFallback runs type t, then its fallbacks in order until one
// succeeds. path holds the types on the current chain; tried holds every type
// attempted for this request. Fail-closed errors stop the walk.
func (o *Orchestrator) executeWithFallback(ctx context.Context, t skill.ExecutorType, req *skill.ExecutionRequest,
	path []skill.ExecutorType, tried map[skill.ExecutorType]bool) (*skill.ExecutionResponse, error) {
	path = append(slices.Clone(path), t)
	tried[t] = true

	resp, err := o.attempt(ctx, t, req)
	if err == nil {
		return resp, nil
	}
	if !skillerr.FallbackEligible(err) {
		return resp, err
	}

	for _, next := range o.Fallbacks(t) {
		if slices.Contains(path, next) {
			cycle := &CycleError{Path: append(slices.Clone(path), next)}
			o.log.Warn("fallback cycle", zap.String("request_id", req.ID), zap.Error(cycle))
			return failure(cycle, t, time.Now()), cycle
		}
		if tried[next] {
			continue
		}

		_ = o.tracer.TraceFallback(ctx, req.ID, t, next, err)
		o.metrics.RecordFallback(t, next)
		logger.Warnw("executor failed, trying fallback",
			"request_id", req.ID,
			"skill", req.SkillName,
			"from", t,
			"to", next,
			"error", err,
		)

		fresp, ferr := o.executeWithFallback(ctx, next, req, path, tried)
		if ferr == nil {
			fresp.Warnings = append(fresp.Warnings,
				fmt.Sprintf("executor %s failed, resolved by fallback %s", t, fresp.Metadata.ExecutionType))
			return fresp, nil
		}
		if errors.Is(ferr, ErrFallbackCycle) || !skillerr.FallbackEligible(ferr) {
			return fresp, ferr
		}
		resp, err = fresp, ferr
	}

	return resp, err
}

// attempt runs one executor and records the attempt
func (o *Orchestrator) attempt(ctx context.Context, t skill.ExecutorType, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	o.mu.RLock()
	exec, ok := o.executors[t]
	o.mu.RUnlock()

	start := time.Now()
	var (
		resp *skill.ExecutionResponse
		err  error
	)
	if !ok {
		err = &skillerr.ExecutionError{
			Message: fmt.Sprintf("no executor for type %s", t),
			Cause:   ErrExecutorNotFound,
			Context: map[string]any{"executor": string(t)},
		}
	} else {
		err = tracer.Span(ctx, o.tracer, req.ID, tracer.AttemptStage(t), func(ctx context.Context) error {
			var err error
			resp, err = exec.Execute(ctx, req)
			if err == nil && (resp == nil || !resp.Success) {
				err = unsuccessful(resp)
			}
			return err
		})
	}
	if resp == nil || (err != nil && resp.Error == nil) {
		resp = failure(err, t, start)
	}

	a := metrics.Attempt{
		Executor:   t,
		Skill:      req.SkillName,
		Duration:   time.Since(start),
		Success:    err == nil,
		TokenUsage: resp.Metadata.TokenUsage,
	}
	if resp.Metadata.CacheLookup {
		hit := resp.Metadata.CacheHit
		a.CacheHit = &hit
	}
	if err != nil {
		a.ErrorKind = string(skillerr.KindOf(err))
	}
	o.metrics.Record(a)

	return resp, err
}

// unsuccessful turns a failed response that carried no error into one
func unsuccessful(resp *skill.ExecutionResponse) error {
	if resp == nil {
		return &skillerr.ExecutionError{Message: "executor returned no response"}
	}
	if resp.Error != nil {
		return &skillerr.ExecutionError{Message: resp.Error.Message, Context: resp.Error.Context}
	}
	return &skillerr.ExecutionError{Message: "execution failed"}
}

func failure(err error, t skill.ExecutorType, start time.Time) *skill.ExecutionResponse {
	return &skill.ExecutionResponse{
		Success: false,
		Error:   skillerr.Describe(err),
		Metadata: skill.ExecutionMetadata{
			ExecutionTime: time.Since(start),
			ExecutionType: t,
			Timestamp:     time.Now(),
		},
	}
}
