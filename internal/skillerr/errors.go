// Package skillerr defines the typed failures of the skill execution pipeline.
package skillerr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
)

// Kind identifies a pipeline failure class
type Kind string

const (
	KindCodeExtraction       Kind = "CODE_EXTRACTION_ERROR"
	KindCompilation          Kind = "COMPILATION_ERROR"
	KindDependencyResolution Kind = "DEPENDENCY_RESOLUTION_ERROR"
	KindSecurityValidation   Kind = "SECURITY_VALIDATION_ERROR"
	KindSandboxExecution     Kind = "SANDBOX_EXECUTION_ERROR"
	KindResourceLimit        Kind = "RESOURCE_LIMIT_ERROR"
	KindExecution            Kind = "EXECUTION_ERROR"
)

// SkillError is implemented by every typed pipeline error
type SkillError interface {
	error
	Kind() Kind
	Fields() map[string]any
}

// CodeExtractionError means a skill carries no runnable source block
type CodeExtractionError struct {
	Skill  string
	Reason string
}

func (e *CodeExtractionError) Error() string {
	return fmt.Sprintf("code extraction failed for skill %q: %s", e.Skill, e.Reason)
}

func (e *CodeExtractionError) Kind() Kind { return KindCodeExtraction }

func (e *CodeExtractionError) Fields() map[string]any {
	return map[string]any{"skill": e.Skill, "reason": e.Reason}
}

// CompilationError carries every diagnostic of a failed compile
type CompilationError struct {
	Skill       string
	Diagnostics []skill.Diagnostic
}

func (e *CompilationError) Error() string {
	var first string
	for _, d := range e.Diagnostics {
		if d.Category == skill.DiagnosticError {
			first = d.Message
			if d.Line > 0 {
				first = fmt.Sprintf("%s (line %d, column %d)", d.Message, d.Line, d.Column)
			}
			break
		}
	}
	return fmt.Sprintf("compilation failed for skill %q with %d diagnostic(s): %s", e.Skill, len(e.Diagnostics), first)
}

func (e *CompilationError) Kind() Kind { return KindCompilation }

func (e *CompilationError) Fields() map[string]any {
	return map[string]any{"skill": e.Skill, "diagnostics": e.Diagnostics}
}

// DependencyResolutionError names a module that violates the dependency policy
// or could not be loaded
type DependencyResolutionError struct {
	Module string
	Reason string
}

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("dependency %q rejected: %s", e.Module, e.Reason)
}

func (e *DependencyResolutionError) Kind() Kind { return KindDependencyResolution }

func (e *DependencyResolutionError) Fields() map[string]any {
	return map[string]any{"module": e.Module, "reason": e.Reason}
}

// SecurityValidationError means the static audit did not pass
type SecurityValidationError struct {
	RiskLevel skill.RiskLevel
	Issues    []skill.SecurityIssue
}

func (e *SecurityValidationError) Error() string {
	codes := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		codes = append(codes, issue.Code)
	}
	return fmt.Sprintf("security validation failed at risk level %s: %s", e.RiskLevel, strings.Join(codes, ", "))
}

func (e *SecurityValidationError) Kind() Kind { return KindSecurityValidation }

func (e *SecurityValidationError) Fields() map[string]any {
	return map[string]any{"riskLevel": e.RiskLevel, "issues": e.Issues}
}

// SandboxExecutionError wraps a runtime failure inside the sandbox
type SandboxExecutionError struct {
	Cause   error
	Elapsed time.Duration
}

func (e *SandboxExecutionError) Error() string {
	return fmt.Sprintf("sandbox execution failed after %s: %v", e.Elapsed, e.Cause)
}

func (e *SandboxExecutionError) Unwrap() error { return e.Cause }

func (e *SandboxExecutionError) Kind() Kind { return KindSandboxExecution }

func (e *SandboxExecutionError) Fields() map[string]any {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return map[string]any{"cause": cause, "elapsedMs": e.Elapsed.Milliseconds()}
}

// Resource names a sandbox limit
type Resource string

const (
	ResourceTime   Resource = "time"
	ResourceMemory Resource = "memory"
)

// ResourceLimitError means an execution exceeded a sandbox limit. Limit and
// Actual are milliseconds for time and bytes for memory.
type ResourceLimitError struct {
	Resource Resource
	Limit    int64
	Actual   int64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Resource, e.Actual, e.Limit)
}

func (e *ResourceLimitError) Kind() Kind { return KindResourceLimit }

func (e *ResourceLimitError) Fields() map[string]any {
	return map[string]any{"resource": e.Resource, "limit": e.Limit, "actual": e.Actual}
}

// ExecutionError is the generic failure for anything not otherwise classified
type ExecutionError struct {
	Message string
	Cause   error
	Context map[string]any
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil && e.Message != e.Cause.Error() {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Kind() Kind { return KindExecution }

func (e *ExecutionError) Fields() map[string]any {
	fields := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		fields[k] = v
	}
	return fields
}

// As returns the first SkillError in err's chain
func As(err error) (SkillError, bool) {
	var se SkillError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindExecution when it carries none
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind()
	}
	return KindExecution
}

// FallbackEligible reports whether another executor may retry after err.
// Extraction, compilation, dependency and security failures are final.
func FallbackEligible(err error) bool {
	if err == nil {
		return true
	}
	switch KindOf(err) {
	case KindCodeExtraction, KindCompilation, KindDependencyResolution, KindSecurityValidation:
		return false
	}
	return true
}
