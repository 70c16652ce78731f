package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ConnectionType represents the type of MCP connection
type ConnectionType string

const (
	ConnectionTypeStdio ConnectionType = "stdio"
	ConnectionTypePipe  ConnectionType = "pipe"
)

// Connection represents an MCP connection
type Connection struct {
	Type    ConnectionType
	Command *exec.Cmd
	Stdin   io.WriteCloser
	Stdout  io.ReadCloser
	Client  *Client
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStdioConnection creates a connection to a server subprocess. env is
// appended to the current process environment.
func NewStdioConnection(command string, args []string, env []string) (*Connection, error) {
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	conn := newConnection(ConnectionTypeStdio, stdout, stdin)
	conn.Command = cmd
	return conn, nil
}

// NewPipeConnection creates a connection over an existing stream pair, such
// as an in-process server.
func NewPipeConnection(r io.ReadCloser, w io.WriteCloser) *Connection {
	return newConnection(ConnectionTypePipe, r, w)
}

func newConnection(t ConnectionType, r io.ReadCloser, w io.WriteCloser) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		Type:   t,
		Stdin:  w,
		Stdout: r,
		Client: NewClient(r, w),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the subprocess, if any, and the client message loop
func (c *Connection) Start() error {
	if c.Command != nil {
		if err := c.Command.Start(); err != nil {
			return fmt.Errorf("failed to start command: %w", err)
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Client.Start(c.ctx)
	}()

	return nil
}

// Stop stops the connection
func (c *Connection) Stop() error {
	c.cancel()

	if c.Stdin != nil {
		_ = c.Stdin.Close()
	}
	if c.Stdout != nil {
		_ = c.Stdout.Close()
	}

	if c.Command != nil && c.Command.Process != nil {
		_ = c.Command.Process.Kill()
		_ = c.Command.Wait()
	}

	c.wg.Wait()
	return nil
}

// Initialize performs the MCP handshake
func (c *Connection) Initialize(ctx context.Context, clientInfo ClientInfo) (*InitializeResult, error) {
	return c.Client.Initialize(ctx, clientInfo)
}
