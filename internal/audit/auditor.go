// Package audit statically scans compiled skill code for dangerous constructs.
package audit

import (
	"fmt"
	"time"

	"github.com/hb-chen/skillexec/internal/skill"
)

// DefaultComplexityCeiling is the complexity score above which a skill is flagged
const DefaultComplexityCeiling = 200

// Auditor produces security reports for compiled artifacts
type Auditor struct {
	complexityCeiling int
}

// New creates an auditor; a non-positive ceiling selects the default
func New(complexityCeiling int) *Auditor {
	if complexityCeiling <= 0 {
		complexityCeiling = DefaultComplexityCeiling
	}
	return &Auditor{complexityCeiling: complexityCeiling}
}

// ComplexityCeiling returns the configured ceiling
func (a *Auditor) ComplexityCeiling() int {
	return a.complexityCeiling
}

// Audit scans the artifact and returns a fresh report. It does not modify
// the artifact.
func (a *Auditor) Audit(artifact *skill.CompiledArtifact) *skill.SecurityReport {
	start := time.Now()
	if artifact == nil {
		return NewReport(nil, time.Since(start))
	}

	issues := ScanText(artifact.ExecutableText)
	issues = append(issues, scanRedos(artifact.ExecutableText)...)
	issues = append(issues, scanDependencies(artifact.Dependencies)...)

	if artifact.ComplexityScore > a.complexityCeiling {
		issues = append(issues, skill.SecurityIssue{
			Level:   skill.RiskLow,
			Code:    CodeHighComplexity,
			Message: fmt.Sprintf("complexity score %d exceeds ceiling %d", artifact.ComplexityScore, a.complexityCeiling),
		})
	}

	return NewReport(issues, time.Since(start))
}

func scanDependencies(deps []skill.Dependency) []skill.SecurityIssue {
	var issues []skill.SecurityIssue
	for _, d := range deps {
		switch d.Category {
		case skill.CategoryRelative:
			issues = append(issues, skill.SecurityIssue{
				Level:   skill.RiskLow,
				Code:    CodeRelativeDependency,
				Message: "relative dependency " + d.Module,
				Snippet: d.Module,
			})
		case skill.CategoryRemote:
			issues = append(issues, skill.SecurityIssue{
				Level:   skill.RiskHigh,
				Code:    CodeRemoteDependency,
				Message: "remote dependency " + d.Module,
				Snippet: d.Module,
			})
		}
	}
	return issues
}

// NewReport derives risk level, pass flag and recommendations from issues
func NewReport(issues []skill.SecurityIssue, elapsed time.Duration) *skill.SecurityReport {
	report := &skill.SecurityReport{
		Issues:          append([]skill.SecurityIssue{}, issues...),
		Recommendations: []string{},
		DurationMs:      elapsed.Milliseconds(),
	}
	finalize(report)
	return report
}

// Merge combines a static report with a runtime one. Neither input is modified.
func Merge(static, runtime *skill.SecurityReport) *skill.SecurityReport {
	switch {
	case static == nil:
		return runtime.Clone()
	case runtime == nil:
		return static.Clone()
	}

	merged := &skill.SecurityReport{
		Issues:          append(append([]skill.SecurityIssue{}, static.Issues...), runtime.Issues...),
		Recommendations: append(append([]string{}, static.Recommendations...), runtime.Recommendations...),
		DurationMs:      static.DurationMs + runtime.DurationMs,
	}
	finalize(merged)
	merged.RiskLevel = skill.MaxRisk(merged.RiskLevel, static.RiskLevel, runtime.RiskLevel)
	merged.Passed = merged.RiskLevel.Passes()
	return merged
}

func finalize(report *skill.SecurityReport) {
	levels := make([]skill.RiskLevel, 0, len(report.Issues))
	seen := make(map[string]bool, len(report.Recommendations))
	recs := make([]string, 0, len(report.Recommendations))
	for _, r := range report.Recommendations {
		if !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}

	codes := make(map[string]bool, len(report.Issues))
	for _, issue := range report.Issues {
		levels = append(levels, issue.Level)
		if codes[issue.Code] {
			continue
		}
		codes[issue.Code] = true
		if r := Recommendation(issue.Code); r != "" && !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}

	report.RiskLevel = skill.MaxRisk(levels...)
	report.Passed = report.RiskLevel.Passes()
	report.Recommendations = recs
}
