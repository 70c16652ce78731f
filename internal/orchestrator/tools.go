package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"github.com/hb-chen/skillexec/internal/skill"
)

// skillTool exposes one skill as a langchaingo tool
type skillTool struct {
	name        string
	description string
	orch        *Orchestrator
}

var _ tools.Tool = (*skillTool)(nil)

// Tool returns the named skill as a langchaingo tool
func (o *Orchestrator) Tool(name string) (tools.Tool, error) {
	if o.registry == nil {
		return nil, fmt.Errorf("%w: %s", skill.ErrSkillNotFound, name)
	}
	def, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return o.newTool(def), nil
}

// Tools converts every registered skill to a langchaingo tool
func (o *Orchestrator) Tools() []tools.Tool {
	if o.registry == nil {
		return nil
	}
	defs := o.registry.List()
	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, o.newTool(def))
	}
	return out
}

func (o *Orchestrator) newTool(def *skill.SkillDefinition) *skillTool {
	desc := def.Metadata.Description
	if desc == "" {
		desc = fmt.Sprintf("Execute the %s skill", def.Metadata.Name)
	}
	return &skillTool{
		name:        def.Metadata.Name,
		description: desc + " Input is a JSON object of arguments.",
		orch:        o,
	}
}

func (t *skillTool) Name() string {
	return t.name
}

func (t *skillTool) Description() string {
	return t.description
}

// Call executes the skill. Input that is not a JSON object is passed as the
// single argument "input".
func (t *skillTool) Call(ctx context.Context, input string) (string, error) {
	params := map[string]any{}
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &params); err != nil {
			params = map[string]any{"input": input}
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	resp, err := t.orch.Execute(ctx, &skill.ExecutionRequest{
		SkillName:  t.name,
		Parameters: params,
	})
	if err != nil {
		return "", fmt.Errorf("skill execution failed: %w", err)
	}
	return skill.FormatResult(resp.Result), nil
}
