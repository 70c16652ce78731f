package skillerr

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hb-chen/skillexec/internal/skill"
)

// sensitiveKey matches context keys that must never leave the process
var sensitiveKey = regexp.MustCompile(`(?i)(api[_-]?key|password|passwd|token|secret)`)

// Wrap normalises err into a SkillError. Typed errors pass through; anything
// else is classified from its message, defaulting to ExecutionError.
func Wrap(err error) SkillError {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &SandboxExecutionError{Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no code block"), strings.Contains(msg, "no executable code"):
		return &CodeExtractionError{Reason: err.Error()}
	case strings.Contains(msg, "syntaxerror"), strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "unexpected token"), strings.Contains(msg, "compil"):
		return &CompilationError{Diagnostics: []skill.Diagnostic{{
			Message:  err.Error(),
			Code:     "FOREIGN",
			Category: skill.DiagnosticError,
		}}}
	case strings.Contains(msg, "cannot find module"), strings.Contains(msg, "module not found"):
		return &DependencyResolutionError{Reason: err.Error()}
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "heap"):
		return &ResourceLimitError{Resource: ResourceMemory}
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return &ResourceLimitError{Resource: ResourceTime}
	}
	return &ExecutionError{Message: err.Error(), Cause: err}
}

// Sanitize returns a copy of fields with sensitive keys removed at any depth
func Sanitize(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveKey.MatchString(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Sanitize(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = sanitizeValue(item)
		}
		return items
	default:
		return v
	}
}

// Describe builds the sanitised error record returned to callers
func Describe(err error) *skill.ErrorInfo {
	if err == nil {
		return nil
	}
	se := Wrap(err)
	return &skill.ErrorInfo{
		Code:    string(se.Kind()),
		Message: se.Error(),
		Context: Sanitize(se.Fields()),
	}
}
