package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/skill/mcp"
)

func TestMCPAdapterBoilerplate(t *testing.T) {
	a := NewMCPAdapter(NewRegistry())

	text, ok := a.Boilerplate(&SkillDefinition{Metadata: SkillMetadata{Protocol: "MCP"}})
	assert.True(t, ok)
	assert.Contains(t, text, "const mcp")

	_, ok = a.Boilerplate(&SkillDefinition{Metadata: SkillMetadata{Protocol: "grpc"}})
	assert.False(t, ok)
}

func TestToolCallToRequest(t *testing.T) {
	a := NewMCPAdapter(NewRegistry())
	req := a.ToolCallToRequest(mcp.ToolCallParams{
		Name: "s",
		Arguments: map[string]interface{}{
			"args":    map[string]interface{}{"x": 1.0},
			"context": map[string]interface{}{"c": "v"},
			"flat":    "y",
		},
	})
	assert.Equal(t, "s", req.SkillName)
	assert.Equal(t, map[string]any{"x": 1.0, "flat": "y"}, req.Parameters)
	assert.Equal(t, map[string]any{"c": "v"}, req.Context)
}

func TestResponseToToolResult(t *testing.T) {
	a := NewMCPAdapter(NewRegistry())

	r := a.ResponseToToolResult(&ExecutionResponse{Success: true, Result: map[string]any{"n": 2.0}})
	assert.Equal(t, `{"n":2}`, r.Text())
	assert.False(t, r.IsError)

	// results already shaped as tool content pass through
	r = a.ResponseToToolResult(&ExecutionResponse{Success: true, Result: map[string]any{
		"content": []any{map[string]any{"type": "text", "text": "oops"}},
		"isError": true,
	}})
	assert.Equal(t, "oops", r.Text())
	assert.True(t, r.IsError)

	r = a.ResponseToToolResult(&ExecutionResponse{Error: &ErrorInfo{Code: "X", Message: "m"}})
	assert.True(t, r.IsError)
	assert.Equal(t, "X: m", r.Text())

	assert.True(t, a.ResponseToToolResult(nil).IsError)
}

func TestReadResource(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&SkillDefinition{Metadata: SkillMetadata{Name: "a"}, Content: SkillContent{Raw: "raw"}}))
	a := NewMCPAdapter(r)

	res, err := a.ReadResource("skill://a")
	require.NoError(t, err)
	assert.Equal(t, "raw", res.Contents[0].Text)

	_, err = a.ReadResource("skill://")
	assert.Error(t, err)
	_, err = a.ReadResource("skill://b")
	assert.ErrorIs(t, err, ErrSkillNotFound)
}
