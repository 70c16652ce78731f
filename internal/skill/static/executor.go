// Package static serves a skill's instructions without running any code.
package static

import (
	"context"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skill/direct"
	"github.com/hb-chen/skillexec/internal/skillerr"
)

// Executor returns the instruction body of a skill
type Executor struct {
	registry *skill.Registry
}

// NewExecutor creates a static executor reading from registry
func NewExecutor(registry *skill.Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute returns the skill's instructions as the result
func (e *Executor) Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	start := time.Now()
	instructions, err := e.instructions(ctx, req)
	if err != nil {
		return &skill.ExecutionResponse{
			Success: false,
			Error:   skillerr.Describe(err),
			Metadata: skill.ExecutionMetadata{
				ExecutionTime: time.Since(start),
				ExecutionType: skill.ExecutorStatic,
				Timestamp:     time.Now(),
			},
		}, err
	}

	return &skill.ExecutionResponse{
		Success: true,
		Result:  instructions,
		Metadata: skill.ExecutionMetadata{
			ExecutionTime: time.Since(start),
			TokenUsage:    direct.EstimateTokens(instructions),
			ExecutionType: skill.ExecutorStatic,
			Timestamp:     time.Now(),
		},
	}, nil
}

func (e *Executor) instructions(ctx context.Context, req *skill.ExecutionRequest) (string, error) {
	if err := direct.ValidateRequest(req); err != nil {
		return "", err
	}
	def, err := e.registry.Load(ctx, req.SkillName)
	if err != nil {
		return "", &skillerr.ExecutionError{Message: "load skill", Cause: err, Context: map[string]any{"skill": req.SkillName}}
	}
	if def.Content.Instructions == "" {
		return "", &skillerr.ExecutionError{Message: "skill has no instructions", Context: map[string]any{"skill": req.SkillName}}
	}
	return def.Content.Instructions, nil
}
