package skillerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/skill"
)

func TestWrapPassesTypedErrorsThrough(t *testing.T) {
	orig := &DependencyResolutionError{Module: "https://x.test/a.js", Reason: "remote"}
	wrapped := fmt.Errorf("resolve: %w", orig)

	se := Wrap(wrapped)
	require.NotNil(t, se)
	assert.Same(t, orig, se)
	assert.Equal(t, KindDependencyResolution, se.Kind())
}

func TestWrapClassifiesForeignErrors(t *testing.T) {
	tests := []struct {
		msg  string
		kind Kind
	}{
		{"SyntaxError: Unexpected token ]", KindCompilation},
		{"Cannot find module 'left-pad'", KindDependencyResolution},
		{"JavaScript heap out of memory", KindResourceLimit},
		{"operation timed out", KindResourceLimit},
		{"something odd", KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.kind, Wrap(errors.New(tt.msg)).Kind())
		})
	}

	assert.Nil(t, Wrap(nil))
	assert.Equal(t, KindSandboxExecution, Wrap(context.Canceled).Kind())
}

func TestSanitizeRemovesSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"skill":    "doubler",
		"apiKey":   "k",
		"API_KEY":  "k",
		"password": "p",
		"nested": map[string]any{
			"accessToken": "t",
			"keep":        1,
			"list":        []any{map[string]any{"client_secret": "s", "ok": true}},
		},
	}

	out := Sanitize(in)

	assert.Equal(t, "doubler", out["skill"])
	assert.NotContains(t, out, "apiKey")
	assert.NotContains(t, out, "API_KEY")
	assert.NotContains(t, out, "password")
	nested := out["nested"].(map[string]any)
	assert.NotContains(t, nested, "accessToken")
	assert.Equal(t, 1, nested["keep"])
	item := nested["list"].([]any)[0].(map[string]any)
	assert.NotContains(t, item, "client_secret")
	assert.Equal(t, true, item["ok"])

	// input untouched
	assert.Contains(t, in, "password")
}

func TestDescribe(t *testing.T) {
	info := Describe(&ExecutionError{
		Message: "boom",
		Context: map[string]any{"skill": "a", "token": "xyz"},
	})
	require.NotNil(t, info)
	assert.Equal(t, string(KindExecution), info.Code)
	assert.Equal(t, "boom", info.Message)
	assert.Equal(t, map[string]any{"skill": "a"}, info.Context)

	info = Describe(&ResourceLimitError{Resource: ResourceTime, Limit: 10, Actual: 50})
	assert.Equal(t, string(KindResourceLimit), info.Code)
	assert.Equal(t, ResourceTime, info.Context["resource"])

	assert.Nil(t, Describe(nil))
}

func TestFallbackEligible(t *testing.T) {
	assert.False(t, FallbackEligible(&CodeExtractionError{}))
	assert.False(t, FallbackEligible(&CompilationError{}))
	assert.False(t, FallbackEligible(fmt.Errorf("x: %w", &DependencyResolutionError{})))
	assert.False(t, FallbackEligible(&SecurityValidationError{RiskLevel: skill.RiskHigh}))
	assert.True(t, FallbackEligible(&SandboxExecutionError{Cause: errors.New("x"), Elapsed: time.Millisecond}))
	assert.True(t, FallbackEligible(&ResourceLimitError{Resource: ResourceMemory}))
	assert.True(t, FallbackEligible(errors.New("plain")))
}

func TestCompilationErrorMessage(t *testing.T) {
	err := &CompilationError{Skill: "s", Diagnostics: []skill.Diagnostic{
		{Message: "unused", Category: skill.DiagnosticWarning},
		{Message: "Expected \";\"", Category: skill.DiagnosticError, Line: 3, Column: 7},
	}}
	assert.Contains(t, err.Error(), "2 diagnostic(s)")
	assert.Contains(t, err.Error(), "line 3, column 7")
}
