// Package servers exposes registered skills over MCP.
package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/mcp"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// ServerName is reported in the initialize handshake
const ServerName = "skillexec-mcp-server"

// Executor runs an execution request
type Executor interface {
	Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error)
}

// SkillServer implements an MCP server whose tools are the registered skills
type SkillServer struct {
	server   *mcp.Server
	registry *skill.Registry
	executor Executor
	adapter  *skill.MCPAdapter
}

// NewSkillServer creates an MCP server executing tool calls with executor
func NewSkillServer(registry *skill.Registry, executor Executor, version string) *SkillServer {
	server := mcp.NewServer(ServerName, version)
	server.SetCapabilities(mcp.ServerCapabilities{
		Tools: &mcp.ToolsCapability{},
		Resources: &mcp.ResourcesCapability{
			Subscribe:   false,
			ListChanged: false,
		},
	})

	s := &SkillServer{
		server:   server,
		registry: registry,
		executor: executor,
		adapter:  skill.NewMCPAdapter(registry),
	}
	s.registerHandlers()
	return s
}

func (s *SkillServer) registerHandlers() {
	s.server.RegisterHandler(mcp.MethodToolsList, s.handleToolsList)
	s.server.RegisterHandler(mcp.MethodToolsCall, s.handleToolsCall)
	s.server.RegisterHandler(mcp.MethodResourcesList, s.handleResourcesList)
	s.server.RegisterHandler(mcp.MethodResourcesRead, s.handleResourcesRead)
}

func (s *SkillServer) handleToolsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return mcp.ToolsListResult{
		Tools: s.adapter.Tools(),
	}, nil
}

// handleToolsCall runs the skill. Execution failures are reported in the
// tool result; only malformed calls are protocol errors.
func (s *SkillServer) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var call mcp.ToolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, mcp.NewJSONRPCError(mcp.ErrCodeInvalidParams, fmt.Sprintf("invalid tool call parameters: %v", err), nil)
	}

	tool, err := s.adapter.Tool(call.Name)
	if err != nil {
		return nil, mcp.NewJSONRPCError(mcp.ErrCodeInvalidParams, fmt.Sprintf("unknown tool: %s", call.Name), nil)
	}
	if err := mcp.ValidateToolCall(tool, call); err != nil {
		return nil, mcp.NewJSONRPCError(mcp.ErrCodeInvalidParams, err.Error(), nil)
	}

	req := s.adapter.ToolCallToRequest(call)
	req.ID = uuid.NewString()

	resp, err := s.executor.Execute(ctx, req)
	if err != nil {
		logger.Debugw("tool call failed", "tool", call.Name, "request_id", req.ID, "error", err)
	}
	return s.adapter.ResponseToToolResult(resp), nil
}

func (s *SkillServer) handleResourcesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return mcp.ResourcesListResult{
		Resources: s.adapter.Resources(),
	}, nil
}

func (s *SkillServer) handleResourcesRead(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var readParams mcp.ResourceReadParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, mcp.NewJSONRPCError(mcp.ErrCodeInvalidParams, fmt.Sprintf("invalid resource read parameters: %v", err), nil)
	}
	return s.adapter.ReadResource(readParams.URI)
}

// Server returns the underlying MCP server
func (s *SkillServer) Server() *mcp.Server {
	return s.server
}

// Serve answers MCP requests read from r until r ends or ctx is done
func (s *SkillServer) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.server.Serve(ctx, r, w)
}
