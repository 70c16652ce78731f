package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/mcp"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/internal/tracer"
)

// toolServer answers tools/call with handler
func toolServer(handler func(mcp.ToolCallParams) (interface{}, error)) *mcp.Server {
	s := mcp.NewServer("tools", "1")
	s.RegisterHandler(mcp.MethodToolsCall, func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var call mcp.ToolCallParams
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, err
		}
		return handler(call)
	})
	return s
}

func pipeDial(t *testing.T, s *mcp.Server, dials *int) DialFunc {
	return func(string, ServerConfig) (*mcp.Connection, error) {
		*dials++
		clientR, serverW := io.Pipe()
		serverR, clientW := io.Pipe()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() {
			_ = s.Serve(ctx, serverR, serverW)
			_ = serverW.Close()
		}()
		return mcp.NewPipeConnection(clientR, clientW), nil
	}
}

func newExecutor(t *testing.T, s *mcp.Server, dials *int) *Executor {
	t.Helper()
	return newTracedExecutor(t, s, dials, nil)
}

func newTracedExecutor(t *testing.T, s *mcp.Server, dials *int, tr tracer.ExecutionTracer) *Executor {
	t.Helper()
	cfg := &Config{
		Skills: map[string]Route{
			"weather": {Server: "remote"},
			"renamed": {Server: "remote", Tool: "weather"},
		},
		Servers: map[string]ServerConfig{"remote": {Type: "stdio", Command: "unused"}},
	}
	manager := mcp.NewExternalServerManager("test")
	t.Cleanup(func() { _ = manager.Close() })
	e, err := NewExecutor(Options{Config: cfg, Manager: manager, Dial: pipeDial(t, s, dials), Tracer: tr})
	require.NoError(t, err)
	return e
}

func TestExecuteCallsRoutedTool(t *testing.T) {
	var seen mcp.ToolCallParams
	s := toolServer(func(call mcp.ToolCallParams) (interface{}, error) {
		seen = call
		return mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent(`{"temp":21}`)}}, nil
	})
	dials := 0
	e := newExecutor(t, s, &dials)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := e.Execute(ctx, &skill.ExecutionRequest{
		SkillName:  "weather",
		Parameters: map[string]any{"city": "Oslo"},
		Context:    map[string]any{"user": "u"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"temp": 21.0}, resp.Result)
	assert.Equal(t, skill.ExecutorService, resp.Metadata.ExecutionType)
	assert.Equal(t, "weather", seen.Name)
	assert.Equal(t, "Oslo", seen.Arguments["city"])
	assert.Equal(t, map[string]interface{}{"user": "u"}, seen.Arguments["context"])

	resp, err = e.Execute(ctx, &skill.ExecutionRequest{SkillName: "renamed"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "weather", seen.Name)
	assert.Equal(t, 1, dials, "the connection is reused")
}

func TestExecuteToolError(t *testing.T) {
	s := toolServer(func(mcp.ToolCallParams) (interface{}, error) {
		return mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent("quota exceeded")}, IsError: true}, nil
	})
	dials := 0
	e := newExecutor(t, s, &dials)

	resp, err := e.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "weather"})
	require.Error(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, skillerr.KindExecution, skillerr.KindOf(err))
	assert.Contains(t, resp.Error.Message, "quota exceeded")
	assert.True(t, skillerr.FallbackEligible(err))
}

func TestExecuteRPCFailure(t *testing.T) {
	s := toolServer(func(mcp.ToolCallParams) (interface{}, error) {
		return nil, errors.New("server down")
	})
	dials := 0
	e := newExecutor(t, s, &dials)

	_, err := e.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "weather"})
	var rpcErr *mcp.JSONRPCError
	assert.ErrorAs(t, err, &rpcErr)
}

func TestExecuteUnroutedSkill(t *testing.T) {
	dials := 0
	e := newExecutor(t, mcp.NewServer("x", "1"), &dials)

	resp, err := e.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "unknown"})
	require.Error(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, dials)

	_, err = e.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "../bad"})
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
skills:
  weather:
    server: remote
    tool: forecast
servers:
  remote:
    type: stdio
    command: weather-mcp
    args: ["--verbose"]
    env:
      B: "2"
      A: "1"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	route, ok := cfg.Route("weather")
	require.True(t, ok)
	assert.Equal(t, "forecast", route.ToolName("weather"))
	assert.Equal(t, []string{"A=1", "B=2"}, cfg.Servers["remote"].Environ())

	require.NoError(t, os.WriteFile(path, []byte("skills:\n  weather:\n    server: nowhere\n"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "unknown server nowhere")
}

// stageRecorder keeps the stages that ended, in order
type stageRecorder struct {
	tracer.NopTracer
	stages []tracer.Stage
	errs   []error
}

func (r *stageRecorder) TraceStageEnd(_ context.Context, _ string, stage tracer.Stage, _ time.Duration, err error) error {
	r.stages = append(r.stages, stage)
	r.errs = append(r.errs, err)
	return nil
}

func TestExecuteTracesServiceCall(t *testing.T) {
	s := toolServer(func(mcp.ToolCallParams) (interface{}, error) {
		return mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent("ok")}}, nil
	})
	dials := 0
	rec := &stageRecorder{}
	e := newTracedExecutor(t, s, &dials, rec)

	_, err := e.Execute(context.Background(), &skill.ExecutionRequest{ID: "r1", SkillName: "weather"})
	require.NoError(t, err)
	assert.Equal(t, []tracer.Stage{tracer.StageService}, rec.stages)
	assert.Equal(t, tracer.Stage("service_call"), rec.stages[0])
	assert.NoError(t, rec.errs[0])
}
