// Package service executes skills as tools on external MCP servers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/direct"
	"github.com/hb-chen/skillexec/internal/skill/mcp"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/internal/tracer"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// DialFunc opens a connection to a configured server
type DialFunc func(name string, cfg ServerConfig) (*mcp.Connection, error)

// DialStdio starts the server as a subprocess speaking MCP over stdio
func DialStdio(_ string, cfg ServerConfig) (*mcp.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return mcp.NewStdioConnection(cfg.Command, cfg.Args, cfg.Environ())
}

// Options configures an Executor
type Options struct {
	Config  *Config
	Manager *mcp.ExternalServerManager
	Dial    DialFunc
	Tracer  tracer.ExecutionTracer
}

// Executor forwards requests to the MCP server routed for the skill
type Executor struct {
	config  *Config
	manager *mcp.ExternalServerManager
	dial    DialFunc
	tracer  tracer.ExecutionTracer
	connMu  sync.Mutex
	log     *zap.Logger
}

// NewExecutor creates a service executor
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Manager == nil {
		return nil, errors.New("service executor needs an MCP server manager")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Dial == nil {
		opts.Dial = DialStdio
	}
	if opts.Tracer == nil {
		opts.Tracer = tracer.NopTracer{}
	}
	return &Executor{
		config:  opts.Config,
		manager: opts.Manager,
		dial:    opts.Dial,
		tracer:  opts.Tracer,
		log:     logger.Named("service"),
	}, nil
}

// Execute calls the skill's tool and wraps the tool result
func (e *Executor) Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	start := time.Now()
	resp, err := e.execute(ctx, req, start)
	if err != nil {
		e.log.Debug("service call failed", zap.Error(err))
		return &skill.ExecutionResponse{
			Success: false,
			Error:   skillerr.Describe(err),
			Metadata: skill.ExecutionMetadata{
				ExecutionTime: time.Since(start),
				ExecutionType: skill.ExecutorService,
				Timestamp:     time.Now(),
			},
		}, err
	}
	return resp, nil
}

func (e *Executor) execute(ctx context.Context, req *skill.ExecutionRequest, start time.Time) (*skill.ExecutionResponse, error) {
	if err := direct.ValidateRequest(req); err != nil {
		return nil, err
	}

	route, ok := e.config.Route(req.SkillName)
	if !ok {
		return nil, &skillerr.ExecutionError{
			Message: "no MCP server configured for skill",
			Context: map[string]any{"skill": req.SkillName},
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var result *mcp.ToolCallResult
	err := tracer.Span(ctx, e.tracer, req.ID, tracer.StageService, func(ctx context.Context) error {
		if err := e.connect(ctx, route.Server); err != nil {
			return err
		}
		var err error
		result, err = e.manager.CallTool(ctx, route.Server, route.ToolName(req.SkillName), arguments(req))
		return err
	})
	if err != nil {
		return nil, &skillerr.ExecutionError{
			Message: "MCP tool call failed",
			Cause:   err,
			Context: map[string]any{"skill": req.SkillName, "server": route.Server},
		}
	}
	if result.IsError {
		return nil, &skillerr.ExecutionError{
			Message: fmt.Sprintf("MCP tool returned an error: %s", strings.TrimSpace(result.Text())),
			Context: map[string]any{"skill": req.SkillName, "server": route.Server},
		}
	}

	return &skill.ExecutionResponse{
		Success: true,
		Result:  decodeText(result.Text()),
		Metadata: skill.ExecutionMetadata{
			ExecutionTime: time.Since(start),
			ExecutionType: skill.ExecutorService,
			Timestamp:     time.Now(),
		},
	}, nil
}

// connect dials the server on first use
func (e *Executor) connect(ctx context.Context, server string) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	if e.manager.IsConnected(server) {
		return nil
	}
	cfg, ok := e.config.Servers[server]
	if !ok {
		return fmt.Errorf("MCP server not found: %s", server)
	}
	conn, err := e.dial(server, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP connection: %w", err)
	}
	if err := e.manager.Connect(ctx, server, conn); err != nil {
		return err
	}
	e.log.Info("connected to MCP server", zap.String("server", server), zap.String("command", cfg.Command))
	return nil
}

func arguments(req *skill.ExecutionRequest) map[string]interface{} {
	args := make(map[string]interface{}, len(req.Parameters)+1)
	for k, v := range req.Parameters {
		args[k] = v
	}
	if len(req.Context) > 0 {
		args["context"] = req.Context
	}
	return args
}

// decodeText returns JSON text as a decoded value and anything else as is
func decodeText(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	return v
}
