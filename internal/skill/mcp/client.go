package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClientClosed is returned for calls pending when the message loop ends
var ErrClientClosed = errors.New("mcp client closed")

// Client represents an MCP client
type Client struct {
	decoder  *json.Decoder
	encoder  *json.Encoder
	writeMu  sync.Mutex
	requests map[string]chan *JSONRPCResponse
	closed   bool
	mu       sync.Mutex
	nextID   int64
}

// NewClient creates a new MCP client
func NewClient(reader io.Reader, writer io.Writer) *Client {
	return &Client{
		decoder:  json.NewDecoder(reader),
		encoder:  json.NewEncoder(writer),
		requests: make(map[string]chan *JSONRPCResponse),
		nextID:   1,
	}
}

// Initialize initializes the MCP connection
func (c *Client) Initialize(ctx context.Context, clientInfo ClientInfo) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      clientInfo,
	}

	var result InitializeResult
	if err := c.Call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	if err := c.Notify(MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}

	return &result, nil
}

// Notify sends a notification, which gets no response
func (c *Client) Notify(method string, params interface{}) error {
	notif, err := NewJSONRPCRequest(nil, method, params)
	if err != nil {
		return err
	}
	return c.send(notif)
}

func (c *Client) send(req *JSONRPCRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(req)
}

// Call makes a JSON-RPC call and waits for response
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	id := c.nextID
	c.nextID++
	key := idKey(float64(id))
	respChan := make(chan *JSONRPCResponse, 1)
	c.requests[key] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.requests, key)
		c.mu.Unlock()
	}()

	req, err := NewJSONRPCRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.send(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-respChan:
		if !ok {
			return ErrClientClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Start runs the message loop until the reader ends or ctx is done. Calls
// still pending afterwards fail with ErrClientClosed.
func (c *Client) Start(ctx context.Context) error {
	defer c.closePending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var resp JSONRPCResponse
		if err := c.decoder.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if resp.ID == nil {
			continue
		}

		c.mu.Lock()
		respChan, exists := c.requests[idKey(resp.ID)]
		c.mu.Unlock()

		if exists {
			select {
			case respChan <- &resp:
			default:
			}
		}
	}
}

func (c *Client) closePending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, ch := range c.requests {
		close(ch)
		delete(c.requests, key)
	}
}

// Ping checks the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, MethodPing, nil, nil)
}

// ListTools lists available tools
func (c *Client) ListTools(ctx context.Context) (*ToolsListResult, error) {
	var result ToolsListResult
	if err := c.Call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool calls a tool
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*ToolCallResult, error) {
	params := ToolCallParams{
		Name:      name,
		Arguments: arguments,
	}

	var result ToolCallResult
	if err := c.Call(ctx, MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources lists available resources
func (c *Client) ListResources(ctx context.Context) (*ResourcesListResult, error) {
	var result ResourcesListResult
	if err := c.Call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource reads a resource
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	params := ResourceReadParams{
		URI: uri,
	}

	var result ResourceReadResult
	if err := c.Call(ctx, MethodResourcesRead, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
