package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeServer starts s on an in-memory stream and returns a connected client
func pipeServer(t *testing.T, s *Server) *Connection {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, serverR, serverW)
		_ = serverW.Close()
	}()

	conn := NewPipeConnection(clientR, clientW)
	require.NoError(t, conn.Start())
	t.Cleanup(func() {
		cancel()
		_ = conn.Stop()
		_ = serverR.Close()
		<-done
	})
	return conn
}

func echoServer() *Server {
	s := NewServer("echo", "0.1.0")
	s.SetCapabilities(ServerCapabilities{Tools: &ToolsCapability{}})
	s.RegisterHandler(MethodToolsList, func(context.Context, json.RawMessage) (interface{}, error) {
		return ToolsListResult{Tools: []Tool{{Name: "echo", InputSchema: GenerateToolSchema(nil)}}}, nil
	})
	s.RegisterHandler(MethodToolsCall, func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var call ToolCallParams
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, err
		}
		if call.Name == "fail" {
			return nil, errors.New("tool exploded")
		}
		if call.Name == "invalid" {
			return nil, NewJSONRPCError(ErrCodeInvalidParams, "bad args", nil)
		}
		text, _ := call.Arguments["text"].(string)
		return ToolCallResult{Content: []Content{TextContent(text)}}, nil
	})
	return s
}

func TestClientServerRoundTrip(t *testing.T) {
	conn := pipeServer(t, echoServer())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	init, err := conn.Initialize(ctx, ClientInfo{Name: "test", Version: "1"})
	require.NoError(t, err)
	assert.Equal(t, "echo", init.ServerInfo.Name)
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)
	assert.NotNil(t, init.Capabilities.Tools)

	require.NoError(t, conn.Client.Ping(ctx))

	tools, err := conn.Client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	result, err := conn.Client.CallTool(ctx, "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text())
}

func TestClientErrors(t *testing.T) {
	conn := pipeServer(t, echoServer())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Client.CallTool(ctx, "fail", nil)
	var rpcErr *JSONRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInternalError, rpcErr.Code)
	assert.Equal(t, "tool exploded", rpcErr.Message)

	_, err = conn.Client.CallTool(ctx, "invalid", nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInvalidParams, rpcErr.Code)

	_, err = conn.Client.ListResources(ctx)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeMethodNotFound, rpcErr.Code)
}

func TestClientConcurrentCalls(t *testing.T) {
	conn := pipeServer(t, echoServer())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	errs := make(chan error, len(texts))
	for _, text := range texts {
		go func(text string) {
			result, err := conn.Client.CallTool(ctx, "echo", map[string]interface{}{"text": text})
			if err == nil && result.Text() != text {
				err = errors.New("mismatched response " + result.Text())
			}
			errs <- err
		}(text)
	}
	for range texts {
		require.NoError(t, <-errs)
	}
}

func TestPendingCallFailsWhenStreamCloses(t *testing.T) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go func() {
		// read the request, then hang up without answering
		var req JSONRPCRequest
		_ = json.NewDecoder(serverR).Decode(&req)
		_ = serverW.Close()
	}()

	client := NewClient(clientR, clientW)
	go func() { _ = client.Start(context.Background()) }()

	err := client.Call(context.Background(), MethodPing, nil, nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, client.Call(context.Background(), MethodPing, nil, nil), ErrClientClosed)
}

func TestServerIgnoresNotifications(t *testing.T) {
	s := echoServer()
	req, err := NewJSONRPCRequest(nil, MethodInitialized, nil)
	require.NoError(t, err)
	assert.True(t, req.IsNotification())

	resp, err := s.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestValidateToolCall(t *testing.T) {
	tool := Tool{
		Name: "deploy",
		InputSchema: GenerateToolSchema(map[string]interface{}{
			"replicas": map[string]interface{}{"type": "integer"},
			"target":   map[string]interface{}{"type": "string"},
		}, "target"),
	}

	assert.NoError(t, ValidateToolCall(tool, ToolCallParams{Name: "deploy", Arguments: map[string]interface{}{
		"target": "prod", "replicas": float64(3), "args": map[string]interface{}{},
	}}))
	assert.EqualError(t, ValidateToolCall(tool, ToolCallParams{Name: "other"}),
		"tool name mismatch: expected deploy, got other")
	assert.EqualError(t, ValidateToolCall(tool, ToolCallParams{Name: "deploy"}),
		"required field missing: target")
	assert.EqualError(t, ValidateToolCall(tool, ToolCallParams{Name: "deploy", Arguments: map[string]interface{}{"target": true}}),
		"type mismatch for field target: expected string, got boolean")

	// a schema decoded from JSON carries []interface{} required lists
	var decoded Tool
	data, err := json.Marshal(tool)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualError(t, ValidateToolCall(decoded, ToolCallParams{Name: "deploy"}),
		"required field missing: target")
}

func TestExternalServerManager(t *testing.T) {
	m := NewExternalServerManager("test")
	assert.False(t, m.IsConnected("echo"))
	_, err := m.GetClient("echo")
	assert.EqualError(t, err, "server not connected: echo")

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = echoServer().Serve(ctx, serverR, serverW) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	require.NoError(t, m.Connect(callCtx, "echo", NewPipeConnection(clientR, clientW)))
	assert.True(t, m.IsConnected("echo"))
	assert.Equal(t, []string{"echo"}, m.ListConnectedServers())

	tools, err := m.DiscoverTools(callCtx, "echo")
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 1)

	result, err := m.CallTool(callCtx, "echo", "echo", map[string]interface{}{"text": "pong"})
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Text())

	require.NoError(t, m.Disconnect("echo"))
	assert.False(t, m.IsConnected("echo"))
	assert.Error(t, m.Disconnect("echo"))
	_ = serverR.Close()
	assert.NoError(t, m.Close())
}
