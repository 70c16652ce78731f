package skill

import (
	"fmt"
	"strings"

	"github.com/hb-chen/skillexec/internal/skill/mcp"
)

// ProtocolMCP is the protocol name skills declare to get the MCP helpers
const ProtocolMCP = "mcp"

// ResourceScheme prefixes the URI of every skill resource
const ResourceScheme = "skill://"

// mcpBoilerplate gives MCP skills helpers to shape tool results
const mcpBoilerplate = `const mcp = {
  text: (t) => ({ content: [{ type: "text", text: String(t) }] }),
  json: (v) => ({ content: [{ type: "text", text: JSON.stringify(v) }] }),
  error: (m) => ({ content: [{ type: "text", text: String(m) }], isError: true }),
};`

// MCPAdapter maps skills onto MCP tools and resources
type MCPAdapter struct {
	registry *Registry
}

// NewMCPAdapter creates a new MCP adapter
func NewMCPAdapter(registry *Registry) *MCPAdapter {
	return &MCPAdapter{
		registry: registry,
	}
}

// Boilerplate returns the helper prelude for skills speaking MCP
func (a *MCPAdapter) Boilerplate(def *SkillDefinition) (string, bool) {
	if !strings.EqualFold(def.Metadata.Protocol, ProtocolMCP) {
		return "", false
	}
	return mcpBoilerplate, true
}

// SkillToTool converts a skill to an MCP tool
func (a *MCPAdapter) SkillToTool(def *SkillDefinition) mcp.Tool {
	desc := def.Metadata.Description
	if desc == "" {
		desc = fmt.Sprintf("Execute the %s skill", def.Metadata.Name)
	}
	return mcp.Tool{
		Name:        def.Metadata.Name,
		Description: desc,
		InputSchema: mcp.GenerateToolSchema(nil),
	}
}

// Tools converts every registered skill to an MCP tool
func (a *MCPAdapter) Tools() []mcp.Tool {
	defs := a.registry.List()
	tools := make([]mcp.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, a.SkillToTool(def))
	}
	return tools
}

// Tool returns the tool for a registered skill
func (a *MCPAdapter) Tool(name string) (mcp.Tool, error) {
	def, err := a.registry.Get(name)
	if err != nil {
		return mcp.Tool{}, err
	}
	return a.SkillToTool(def), nil
}

// ToolCallToRequest converts an MCP tool call into an execution request.
// Arguments outside args and context are merged into the parameters.
func (a *MCPAdapter) ToolCallToRequest(call mcp.ToolCallParams) *ExecutionRequest {
	req := &ExecutionRequest{
		SkillName:  call.Name,
		Parameters: map[string]any{},
	}
	for k, v := range call.Arguments {
		switch k {
		case "args":
			if m, ok := v.(map[string]interface{}); ok {
				for ak, av := range m {
					req.Parameters[ak] = av
				}
			}
		case "context":
			if m, ok := v.(map[string]interface{}); ok {
				req.Context = m
			}
		default:
			req.Parameters[k] = v
		}
	}
	return req
}

// ResponseToToolResult renders an execution response as a tool result. A
// skill that already returns MCP content is passed through.
func (a *MCPAdapter) ResponseToToolResult(resp *ExecutionResponse) *mcp.ToolCallResult {
	if resp == nil {
		return &mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent("no response")}, IsError: true}
	}
	if !resp.Success {
		msg := "execution failed"
		if resp.Error != nil {
			msg = fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return &mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent(msg)}, IsError: true}
	}
	if result, ok := toolResult(resp.Result); ok {
		return result
	}
	return &mcp.ToolCallResult{Content: []mcp.Content{mcp.TextContent(FormatResult(resp.Result))}}
}

func toolResult(v any) (*mcp.ToolCallResult, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	parts, ok := m["content"].([]any)
	if !ok {
		return nil, false
	}
	result := &mcp.ToolCallResult{}
	for _, p := range parts {
		pm, ok := p.(map[string]any)
		if !ok {
			return nil, false
		}
		c := mcp.Content{}
		c.Type, _ = pm["type"].(string)
		c.Text, _ = pm["text"].(string)
		c.URI, _ = pm["uri"].(string)
		c.MimeType, _ = pm["mimeType"].(string)
		if c.Type == "" {
			return nil, false
		}
		result.Content = append(result.Content, c)
	}
	result.IsError, _ = m["isError"].(bool)
	return result, true
}

// SkillToResource converts a skill to an MCP resource
func (a *MCPAdapter) SkillToResource(def *SkillDefinition) mcp.Resource {
	return mcp.Resource{
		URI:         ResourceScheme + def.Metadata.Name,
		Name:        def.Metadata.Name,
		Description: def.Metadata.Description,
		MimeType:    "text/markdown",
	}
}

// Resources lists a resource for every registered skill
func (a *MCPAdapter) Resources() []mcp.Resource {
	defs := a.registry.List()
	resources := make([]mcp.Resource, 0, len(defs))
	for _, def := range defs {
		resources = append(resources, a.SkillToResource(def))
	}
	return resources
}

// ReadResource returns the raw SKILL.md content behind uri
func (a *MCPAdapter) ReadResource(uri string) (*mcp.ResourceReadResult, error) {
	name, ok := strings.CutPrefix(uri, ResourceScheme)
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid skill URI: %s", uri)
	}
	def, err := a.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceReadResult{
		Contents: []mcp.Content{{
			Type:     "text",
			URI:      uri,
			MimeType: "text/markdown",
			Text:     def.Content.Raw,
		}},
	}, nil
}
