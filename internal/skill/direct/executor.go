// Package direct executes skills in-process: compile, audit, cache and run
// them in the sandbox.
package direct

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/codecache"
	"github.com/hb-chen/skillexec/internal/compiler"
	"github.com/hb-chen/skillexec/internal/sandbox"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/internal/tracer"
	"github.com/hb-chen/skillexec/pkg/logger"
)

var skillNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Options wires the pipeline stages of an Executor
type Options struct {
	Registry *skill.Registry
	Compiler *compiler.Compiler
	Auditor  *audit.Auditor
	Loader   *codecache.Loader
	Sandbox  *sandbox.Sandbox
	Tracer   tracer.ExecutionTracer
}

// Executor runs skills through the in-process pipeline
type Executor struct {
	registry *skill.Registry
	compiler *compiler.Compiler
	auditor  *audit.Auditor
	loader   *codecache.Loader
	sandbox  *sandbox.Sandbox
	tracer   tracer.ExecutionTracer
	execType skill.ExecutorType
	log      *zap.Logger
}

// NewExecutor creates a direct executor
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Registry == nil || opts.Compiler == nil || opts.Loader == nil || opts.Sandbox == nil {
		return nil, errors.New("direct executor needs a registry, compiler, loader and sandbox")
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.New(audit.DefaultComplexityCeiling)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracer.NopTracer{}
	}
	return &Executor{
		registry: opts.Registry,
		compiler: opts.Compiler,
		auditor:  opts.Auditor,
		loader:   opts.Loader,
		sandbox:  opts.Sandbox,
		tracer:   opts.Tracer,
		execType: skill.ExecutorDirect,
		log:      logger.Named("direct"),
	}, nil
}

// As returns a copy reporting itself as executor type t. The same pipeline
// serves direct, preprocessor and internal skills.
func (e *Executor) As(t skill.ExecutorType) *Executor {
	c := *e
	c.execType = t
	return &c
}

// Type returns the executor type reported in responses
func (e *Executor) Type() skill.ExecutorType {
	return e.execType
}

// ValidateRequest checks the fields every executor relies on
func ValidateRequest(req *skill.ExecutionRequest) error {
	if req == nil {
		return &skillerr.ExecutionError{Message: "execution request is nil"}
	}
	err := validation.ValidateStruct(req,
		validation.Field(&req.SkillName, validation.Required, validation.Match(skillNamePattern)),
		validation.Field(&req.Timeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return &skillerr.ExecutionError{Message: "invalid execution request", Cause: err, Context: map[string]any{"skill": req.SkillName}}
	}
	return nil
}

// Execute runs one request
func (e *Executor) Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	start := time.Now()
	resp, err := e.execute(ctx, req, start)
	if err != nil {
		e.log.Debug("execution failed", zap.Error(err))
		return e.failure(err, start), err
	}
	return resp, nil
}

func (e *Executor) execute(ctx context.Context, req *skill.ExecutionRequest, start time.Time) (*skill.ExecutionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	def, err := e.registry.Load(ctx, req.SkillName)
	if err != nil {
		return nil, &skillerr.ExecutionError{Message: "load skill", Cause: err, Context: map[string]any{"skill": req.SkillName}}
	}
	name := def.Metadata.Name
	hash := skill.ContentHash(def.Content)
	compile := e.compileFunc(req.ID, def)

	var (
		artifact *skill.CompiledArtifact
		report   *skill.SecurityReport
		hit      bool
	)
	cacheable := def.Metadata.Cacheable
	if cacheable {
		err = tracer.Span(ctx, e.tracer, req.ID, tracer.StageCacheLookup, func(ctx context.Context) error {
			entry, cacheHit, err := e.loader.GetOrCompile(ctx, name, hash, compile)
			if err != nil {
				return err
			}
			artifact, report, hit = entry.Artifact, entry.Report, cacheHit
			return nil
		})
	} else {
		artifact, report, _, err = e.loader.Compile(ctx, compile)
		if err == nil && !report.Passed {
			err = &skillerr.SecurityValidationError{RiskLevel: report.RiskLevel, Issues: report.Issues}
		}
	}
	if err != nil {
		return nil, err
	}

	opts := sandbox.Options{
		SkillName: name,
		Args:      req.Parameters,
		Context:   req.Context,
		Overrides: def.Metadata.Security,
		Timeout:   req.Timeout,
		Profile:   sandbox.ProfileFull,
	}
	if !def.Metadata.Sandboxed() {
		opts.Profile = sandbox.ProfileReduced
	} else if len(artifact.Dependencies) > 0 {
		err = tracer.Span(ctx, e.tracer, req.ID, tracer.StageResolve, func(ctx context.Context) error {
			modules, err := e.compiler.Resolver().ResolveAll(ctx, artifact.Dependencies)
			opts.Modules = modules
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	var result *sandbox.Result
	err = tracer.Span(ctx, e.tracer, req.ID, tracer.StageSandbox, func(ctx context.Context) error {
		var err error
		result, err = e.sandbox.Execute(ctx, artifact.ExecutableText, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	merged := audit.Merge(report, result.SecurityReport)
	var warnings []string
	for _, issue := range result.SecurityReport.Issues {
		warnings = append(warnings, fmt.Sprintf("runtime security issue %s: %s", issue.Code, issue.Message))
	}

	return &skill.ExecutionResponse{
		Success: true,
		Result:  result.Value,
		Metadata: skill.ExecutionMetadata{
			ExecutionTime: time.Since(start),
			MemoryUsage:   result.HeapDelta,
			TokenUsage:    EstimateTokens(artifact.ExecutableText),
			CacheLookup:   cacheable,
			CacheHit:      hit,
			ExecutionType: e.execType,
			Timestamp:     time.Now(),
		},
		Warnings:       warnings,
		SecurityReport: merged,
	}, nil
}

// compileFunc compiles and audits def. A failing audit is returned as a
// report, not an error, so the cache loader can refuse to store it.
func (e *Executor) compileFunc(requestID string, def *skill.SkillDefinition) codecache.CompileFunc {
	return func(ctx context.Context) (*skill.CompiledArtifact, *skill.SecurityReport, codecache.EntryMetrics, error) {
		var (
			metrics  codecache.EntryMetrics
			artifact *skill.CompiledArtifact
			report   *skill.SecurityReport
		)

		compileStart := time.Now()
		err := tracer.Span(ctx, e.tracer, requestID, tracer.StageCompile, func(ctx context.Context) error {
			var err error
			artifact, err = e.compiler.Compile(ctx, def)
			return err
		})
		metrics.CompileTime = time.Since(compileStart)
		if err != nil {
			return nil, nil, metrics, err
		}

		auditStart := time.Now()
		_ = tracer.Span(ctx, e.tracer, requestID, tracer.StageAudit, func(context.Context) error {
			report = e.auditor.Audit(artifact)
			if !report.Passed {
				return fmt.Errorf("audit failed with risk %s", report.RiskLevel)
			}
			return nil
		})
		metrics.AuditTime = time.Since(auditStart)

		if !report.Passed {
			e.log.Info("skill rejected by security audit",
				zap.String("skill", def.Metadata.Name),
				zap.String("risk", string(report.RiskLevel)),
				zap.Int("issues", len(report.Issues)),
			)
		}
		return artifact, report, metrics, nil
	}
}

func (e *Executor) failure(err error, start time.Time) *skill.ExecutionResponse {
	return &skill.ExecutionResponse{
		Success: false,
		Error:   skillerr.Describe(err),
		Metadata: skill.ExecutionMetadata{
			ExecutionTime: time.Since(start),
			ExecutionType: e.execType,
			Timestamp:     time.Now(),
		},
	}
}

// EstimateTokens approximates the token cost of executable text as one token
// per four bytes, rounded up
func EstimateTokens(text string) int64 {
	return int64((len(text) + 3) / 4)
}
