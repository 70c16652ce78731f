package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/codecache"
	"github.com/hb-chen/skillexec/internal/compiler"
	"github.com/hb-chen/skillexec/internal/config"
	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/metrics"
	"github.com/hb-chen/skillexec/internal/orchestrator"
	"github.com/hb-chen/skillexec/internal/sandbox"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/direct"
	"github.com/hb-chen/skillexec/internal/skill/mcp"
	"github.com/hb-chen/skillexec/internal/skill/service"
	"github.com/hb-chen/skillexec/internal/skill/static"
	"github.com/hb-chen/skillexec/internal/telemetry"
	"github.com/hb-chen/skillexec/internal/tracer"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// version is reported to MCP peers
var version = "dev"

// app holds the wired execution pipeline
type app struct {
	cfg          *config.Config
	registry     *skill.Registry
	compiler     *compiler.Compiler
	resolver     *deps.Resolver
	auditor      *audit.Auditor
	cache        *codecache.Cache
	orchestrator *orchestrator.Orchestrator
	manager      *mcp.ExternalServerManager
	tracer       tracer.ExecutionTracer
	promRegistry *prometheus.Registry
}

// buildApp loads the skills and wires every executor behind the orchestrator
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: skill.NewRegistry(),
		auditor:  audit.New(cfg.Security.ComplexityCeiling),
		cache:    codecache.New(cfg.Cache.MaxSize, cfg.Cache.TTL),
		manager:  mcp.NewExternalServerManager(version),
	}

	n, err := skill.NewLoader(cfg.Skills.Dir).LoadInto(a.registry)
	if err != nil {
		logger.Warnf("Failed to load skills: %v", err)
	} else {
		logger.Infof("Loaded %d skills from %s", n, cfg.Skills.Dir)
	}
	a.resolver = deps.NewResolver(deps.Policy{
		AllowRelative:    cfg.Dependencies.AllowRelative,
		BaseDir:          cfg.Skills.Dir,
		AllowedBuiltins:  cfg.Dependencies.AllowedBuiltins,
		RestrictExternal: cfg.Dependencies.RestrictExternal,
		AllowedExternal:  cfg.Dependencies.AllowedExternal,
	})
	a.registry.OnInvalidate(func(name string) {
		if a.cache.Invalidate(name) {
			logger.Debugf("Dropped cached artifact of re-registered skill %s", name)
		}
		// relative helpers may have changed with the skill
		if n := a.resolver.ForgetRelative(); n > 0 {
			logger.Debugf("Dropped %d relative modules after %s changed", n, name)
		}
	})
	a.compiler = compiler.New(a.resolver)
	a.compiler.RegisterAdapter(skill.ProtocolMCP, skill.NewMCPAdapter(a.registry))

	sb, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		a.promRegistry = prometheus.NewRegistry()
		a.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.RegisterCache(cfg.Metrics.Namespace, a.promRegistry, a.cache)
		reg = a.promRegistry
	}
	collector := metrics.NewCollector(cfg.Metrics.Namespace, reg, logger.GetLogger())

	a.tracer, err = buildTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	directExec, err := direct.NewExecutor(direct.Options{
		Registry: a.registry,
		Compiler: a.compiler,
		Auditor:  a.auditor,
		Loader:   codecache.NewLoader(a.cache, cfg.Cache.MaxConcurrentCompiles),
		Sandbox:  sb,
		Tracer:   a.tracer,
	})
	if err != nil {
		return nil, err
	}
	serviceExec, err := service.NewExecutor(service.Options{
		Config:  &cfg.Executors.Service,
		Manager: a.manager,
		Tracer:  a.tracer,
	})
	if err != nil {
		return nil, err
	}

	fallbacks, err := cfg.Executors.FallbackChains()
	if err != nil {
		return nil, err
	}
	a.orchestrator = orchestrator.New(orchestrator.Options{
		Registry:  a.registry,
		Metrics:   collector,
		Tracer:    a.tracer,
		Fallbacks: fallbacks,
	})

	executors := map[skill.ExecutorType]orchestrator.Executor{
		skill.ExecutorDirect:       directExec,
		skill.ExecutorPreprocessor: directExec.As(skill.ExecutorPreprocessor),
		skill.ExecutorInternal:     directExec.As(skill.ExecutorInternal),
		skill.ExecutorStatic:       static.NewExecutor(a.registry),
		skill.ExecutorService:      serviceExec,
	}
	for t, e := range executors {
		if err := a.orchestrator.RegisterExecutor(t, e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// buildTracer combines the log tracer with OTLP export when enabled
func buildTracer(ctx context.Context, cfg config.Tracing) (tracer.ExecutionTracer, error) {
	if !cfg.Enabled {
		return tracer.NopTracer{}, nil
	}
	tracers := []tracer.ExecutionTracer{tracer.NewLogTracer(cfg.Log.Level)}

	providers, err := telemetry.Init(ctx, cfg.OTel, logger.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	if providers.Enabled() {
		tracers = append(tracers, tracer.NewOTelTracer(providers.TracerProvider(), providers.Shutdown))
	}
	return tracer.NewMultiTracer(tracers...), nil
}

// metricsHandler returns the /metrics handler, nil when metrics are disabled
func (a *app) metricsHandler() http.Handler {
	if a.promRegistry == nil {
		return nil
	}
	return promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry})
}

// Close disconnects MCP servers and flushes the tracers
func (a *app) Close() error {
	return errors.Join(a.manager.Close(), a.tracer.Close())
}
