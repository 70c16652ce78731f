package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClientName identifies this process to external servers
const ClientName = "skillexec"

// ExternalServerManager manages connections to external MCP servers
type ExternalServerManager struct {
	connections map[string]*Connection
	version     string
	mu          sync.RWMutex
}

// NewExternalServerManager creates a new external server manager
func NewExternalServerManager(version string) *ExternalServerManager {
	return &ExternalServerManager{
		connections: make(map[string]*Connection),
		version:     version,
	}
}

// Connect starts conn, performs the handshake and registers it as serverName.
// An existing connection under the same name is replaced.
func (m *ExternalServerManager) Connect(ctx context.Context, serverName string, conn *Connection) error {
	if err := conn.Start(); err != nil {
		return fmt.Errorf("failed to start connection: %w", err)
	}

	clientInfo := ClientInfo{
		Name:    ClientName,
		Version: m.version,
	}
	if _, err := conn.Initialize(ctx, clientInfo); err != nil {
		_ = conn.Stop()
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	m.mu.Lock()
	old := m.connections[serverName]
	m.connections[serverName] = conn
	m.mu.Unlock()

	if old != nil {
		_ = old.Stop()
	}
	return nil
}

// Disconnect disconnects from an external MCP server
func (m *ExternalServerManager) Disconnect(serverName string) error {
	m.mu.Lock()
	conn, exists := m.connections[serverName]
	delete(m.connections, serverName)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("server not connected: %s", serverName)
	}
	if err := conn.Stop(); err != nil {
		return fmt.Errorf("failed to stop connection: %w", err)
	}
	return nil
}

// GetClient gets a client for an external MCP server
func (m *ExternalServerManager) GetClient(serverName string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, exists := m.connections[serverName]
	if !exists {
		return nil, fmt.Errorf("server not connected: %s", serverName)
	}
	return conn.Client, nil
}

// DiscoverTools discovers tools from an external MCP server
func (m *ExternalServerManager) DiscoverTools(ctx context.Context, serverName string) (*ToolsListResult, error) {
	client, err := m.GetClient(serverName)
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx)
}

// CallTool calls tool on serverName
func (m *ExternalServerManager) CallTool(ctx context.Context, serverName, tool string, arguments map[string]interface{}) (*ToolCallResult, error) {
	client, err := m.GetClient(serverName)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, arguments)
}

// ListConnectedServers lists all connected servers, sorted by name
func (m *ExternalServerManager) ListConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]string, 0, len(m.connections))
	for name := range m.connections {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	return servers
}

// IsConnected checks if a server is connected
func (m *ExternalServerManager) IsConnected(serverName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.connections[serverName]
	return exists
}

// Close closes all connections
func (m *ExternalServerManager) Close() error {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var lastErr error
	for _, conn := range conns {
		if err := conn.Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
