// Package sandbox runs compiled skill code in an isolated goja runtime with
// time and memory limits.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// Profile selects which host capabilities a run gets
type Profile string

const (
	// ProfileFull exposes require, env and timers
	ProfileFull Profile = "full"
	// ProfileReduced exposes only args, context and console
	ProfileReduced Profile = "reduced"
)

// entryNames are tried in order when picking the function to call
var entryNames = []string{"default", "main", "handler", "run", "execute"}

// Options describe one execution
type Options struct {
	SkillName string
	Args      map[string]any
	Context   map[string]any
	// Overrides are skill-declared limits layered over the instance defaults
	Overrides *skill.SecurityPolicy
	// Timeout is a request deadline; it can only shorten the effective limit
	Timeout time.Duration
	// Modules are the dependencies resolved for this skill, keyed by the
	// name the code requires them by
	Modules map[string]deps.Module
	Profile Profile
}

// Result is the outcome of a successful execution
type Result struct {
	Value          any                   `json:"value"`
	ExecutionTime  time.Duration         `json:"executionTime"`
	HeapDelta      int64                 `json:"heapDelta"`
	SecurityReport *skill.SecurityReport `json:"securityReport"`
	Logs           []LogEntry            `json:"logs,omitempty"`
}

// execContext is what a run inherits from its limits: the limits themselves
// and the environment snapshot they permit
type execContext struct {
	limits Limits
	env    map[string]any
}

// Sandbox executes compiled skills. It is safe for concurrent use; every
// execution gets a fresh runtime.
type Sandbox struct {
	defaults      Limits
	defaultCtx    *execContext
	lookupEnv     func(string) (string, bool)
	contextsBuilt atomic.Int64
	log           *zap.Logger
}

// New creates a sandbox with the given instance limits
func New(defaults Limits) (*Sandbox, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox limits: %w", err)
	}
	s := &Sandbox{
		defaults:  defaults,
		lookupEnv: os.LookupEnv,
		log:       logger.Named("sandbox"),
	}
	s.defaultCtx = s.buildContext(defaults)
	return s, nil
}

// Defaults returns the instance limits
func (s *Sandbox) Defaults() Limits {
	return s.defaults
}

// ContextsBuilt returns how many execution contexts have been built,
// including the default one
func (s *Sandbox) ContextsBuilt() int64 {
	return s.contextsBuilt.Load()
}

func (s *Sandbox) buildContext(limits Limits) *execContext {
	s.contextsBuilt.Add(1)
	env := make(map[string]any, len(limits.AllowedEnv))
	for _, name := range limits.AllowedEnv {
		if v, ok := s.lookupEnv(name); ok {
			env[name] = v
		}
	}
	return &execContext{limits: limits, env: skillerr.Sanitize(env)}
}

// contextFor reuses the default context unless limits differ from it
func (s *Sandbox) contextFor(limits Limits) *execContext {
	if limits.Equal(s.defaults) {
		return s.defaultCtx
	}
	return s.buildContext(limits)
}

// Execute runs executableText, a CommonJS module, and calls its entry
// function with args and context.
func (s *Sandbox) Execute(ctx context.Context, executableText string, opts Options) (*Result, error) {
	limits := s.defaults.apply(opts.Overrides, opts.Timeout)
	if err := limits.Validate(); err != nil {
		return nil, &skillerr.ExecutionError{Message: "invalid sandbox limits", Cause: err, Context: map[string]any{"skill": opts.SkillName}}
	}
	if opts.Profile == "" {
		opts.Profile = ProfileFull
	}

	r := &run{
		vm:       goja.New(),
		ectx:     s.contextFor(limits),
		opts:     opts,
		timers:   newTimerQueue(),
		required: make(map[string]goja.Value),
		log:      s.log.With(zap.String("skill", opts.SkillName)),
	}
	return r.execute(ctx, executableText)
}

// run is the state of a single execution
type run struct {
	vm       *goja.Runtime
	ectx     *execContext
	opts     Options
	timers   *timerQueue
	required map[string]goja.Value
	args     goja.Value
	context  goja.Value
	logs     []LogEntry
	issues   []skill.SecurityIssue
	log      *zap.Logger
}

func (r *run) execute(ctx context.Context, text string) (*Result, error) {
	limits := r.ectx.limits
	timeout := limits.Timeout()
	memLimit := limits.MemoryBytes()

	start := time.Now()
	deadline := start.Add(timeout)
	baseline := heapBytes()
	wd := startWatchdog(ctx, r.vm, timeout, baseline, memLimit)

	ret, err := r.call(ctx, text, deadline, wd.fired)
	var value any
	if err == nil {
		value, err = r.toGo(ret)
	}

	peak := wd.stop()
	r.vm.ClearInterrupt()
	elapsed := time.Since(start)
	delta := max(heapBytes()-baseline, peak, 0)

	if err != nil {
		if reason := wd.Reason(); reason != nil {
			err = reason
		}
		return nil, r.classify(err, elapsed, limits, delta)
	}
	if elapsed > timeout {
		return nil, &skillerr.ResourceLimitError{Resource: skillerr.ResourceTime, Limit: limits.ExecutionTimeoutMs, Actual: elapsed.Milliseconds()}
	}
	if delta > memLimit {
		return nil, &skillerr.ResourceLimitError{Resource: skillerr.ResourceMemory, Limit: memLimit, Actual: delta}
	}

	r.log.Debug("execution finished", zap.Duration("elapsed", elapsed), zap.Int64("heapDelta", delta))
	return &Result{
		Value:          value,
		ExecutionTime:  elapsed,
		HeapDelta:      delta,
		SecurityReport: audit.NewReport(r.issues, elapsed),
		Logs:           r.logs,
	}, nil
}

// call loads the module, invokes its entry and drives any returned promise
// to completion
func (r *run) call(ctx context.Context, text string, deadline time.Time, fired <-chan struct{}) (goja.Value, error) {
	if err := r.harden(); err != nil {
		return nil, err
	}
	if err := r.installGlobals(); err != nil {
		return nil, err
	}

	prog, err := goja.Compile(r.opts.SkillName+".js", deps.WrapCommonJS(text), true)
	if err != nil {
		return nil, err
	}
	wrapper, err := r.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, errors.New("module wrapper is not a function")
	}

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if _, err := fn(goja.Undefined(), exports, r.vm.ToValue(r.require), module); err != nil {
		return nil, err
	}

	entry, err := r.entry(module.Get("exports"))
	if err != nil {
		return nil, err
	}
	ret, err := entry(goja.Undefined(), r.args, r.context)
	if err != nil {
		return nil, err
	}

	p, ok := ret.Export().(*goja.Promise)
	if !ok {
		return ret, nil
	}
	for p.State() == goja.PromiseStatePending {
		if err := r.timers.runNext(ctx, deadline, fired); err != nil {
			return nil, err
		}
		select {
		case <-fired:
			return nil, errors.New("interrupted")
		default:
		}
	}
	if p.State() == goja.PromiseStateRejected {
		return nil, fmt.Errorf("promise rejected: %s", r.format(p.Result()))
	}
	return p.Result(), nil
}

// entry picks the function to call from module.exports
func (r *run) entry(exports goja.Value) (goja.Callable, error) {
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, nil
	}
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return nil, errors.New("module has no exports")
	}
	obj := exports.ToObject(r.vm)
	for _, name := range entryNames {
		if fn, ok := goja.AssertFunction(obj.Get(name)); ok {
			return fn, nil
		}
	}

	var only goja.Callable
	count := 0
	for _, key := range obj.Keys() {
		if fn, ok := goja.AssertFunction(obj.Get(key)); ok {
			only = fn
			count++
		}
	}
	if count == 1 {
		return only, nil
	}
	return nil, fmt.Errorf("no entry function: export one of %v or a single function", entryNames)
}

func (r *run) classify(err error, elapsed time.Duration, limits Limits, delta int64) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok {
			err = reason
		}
	}

	switch {
	case errors.Is(err, errTimeLimit):
		return &skillerr.ResourceLimitError{Resource: skillerr.ResourceTime, Limit: limits.ExecutionTimeoutMs, Actual: elapsed.Milliseconds()}
	case errors.Is(err, errMemoryLimit):
		return &skillerr.ResourceLimitError{Resource: skillerr.ResourceMemory, Limit: limits.MemoryBytes(), Actual: delta}
	}
	r.log.Debug("execution failed", zap.Error(err))
	return &skillerr.SandboxExecutionError{Cause: err, Elapsed: elapsed}
}
