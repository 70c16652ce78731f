package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Server represents an MCP server
type Server struct {
	name         string
	version      string
	capabilities ServerCapabilities
	handlers     map[string]HandlerFunc
	mu           sync.RWMutex
}

// HandlerFunc represents a handler function for MCP methods
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NewServer creates a new MCP server. ping is always answered.
func NewServer(name, version string) *Server {
	s := &Server{
		name:         name,
		version:      version,
		capabilities: ServerCapabilities{},
		handlers:     make(map[string]HandlerFunc),
	}
	s.handlers[MethodPing] = func(context.Context, json.RawMessage) (interface{}, error) {
		return struct{}{}, nil
	}
	return s
}

// SetCapabilities sets server capabilities
func (s *Server) SetCapabilities(caps ServerCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = caps
}

// RegisterHandler registers a handler for an MCP method
func (s *Server) RegisterHandler(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// HandleRequest handles a JSON-RPC request. Notifications yield a nil response.
func (s *Server) HandleRequest(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	if req.IsNotification() {
		return nil, nil
	}
	if req.Method == MethodInitialize {
		return s.handleInitialize(req)
	}

	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()

	if !exists {
		return NewJSONRPCResponse(req.ID, nil, NewJSONRPCError(
			ErrCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method),
			nil,
		))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *JSONRPCError
		if errors.As(err, &rpcErr) {
			return NewJSONRPCResponse(req.ID, nil, rpcErr)
		}
		return NewJSONRPCResponse(req.ID, nil, NewJSONRPCError(
			ErrCodeInternalError,
			err.Error(),
			nil,
		))
	}

	return NewJSONRPCResponse(req.ID, result, nil)
}

func (s *Server) handleInitialize(req *JSONRPCRequest) (*JSONRPCResponse, error) {
	var params InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewJSONRPCResponse(req.ID, nil, NewJSONRPCError(
			ErrCodeInvalidParams,
			"Invalid initialize parameters",
			nil,
		))
	}

	s.mu.RLock()
	caps := s.capabilities
	s.mu.RUnlock()

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo: ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	}

	return NewJSONRPCResponse(req.ID, result, nil)
}

// Serve serves requests from a reader and writes responses to a writer
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	decoder := json.NewDecoder(reader)
	encoder := json.NewEncoder(writer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var req JSONRPCRequest
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if !errors.As(err, &syntaxErr) {
				return fmt.Errorf("failed to decode request: %w", err)
			}
			resp, _ := NewJSONRPCResponse(nil, nil, NewJSONRPCError(
				ErrCodeParseError,
				"Parse error",
				nil,
			))
			if err := encoder.Encode(resp); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			// the decoder cannot resync after a syntax error
			return fmt.Errorf("failed to decode request: %w", err)
		}

		resp, err := s.HandleRequest(ctx, &req)
		if err != nil {
			resp, _ = NewJSONRPCResponse(req.ID, nil, NewJSONRPCError(
				ErrCodeInternalError,
				err.Error(),
				nil,
			))
		}
		if resp == nil {
			continue
		}

		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}
