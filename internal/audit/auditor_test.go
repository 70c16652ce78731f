package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hb-chen/skillexec/internal/skill"
)

func artifact(text string) *skill.CompiledArtifact {
	return &skill.CompiledArtifact{ExecutableText: text, ComplexityScore: 1}
}

func codes(report *skill.SecurityReport) []string {
	out := make([]string, 0, len(report.Issues))
	for _, i := range report.Issues {
		out = append(out, i.Code)
	}
	return out
}

func TestAuditForbiddenPatterns(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		code  string
		level skill.RiskLevel
	}{
		{"eval", `const x = eval("1+1");`, CodeEval, skill.RiskHigh},
		{"new function", `const f = new Function("a", "return a");`, CodeFunctionConstructor, skill.RiskHigh},
		{"bare function", `const f = Function('return this')();`, CodeFunctionConstructor, skill.RiskHigh},
		{"prototype constructor", `const f = (function () {}).constructor("return 1");`, CodeFunctionConstructor, skill.RiskHigh},
		{"generator constructor", `exports.default = () => Object.getPrototypeOf(function* () {}).constructor("return 6*7")().next().value`, CodeFunctionConstructor, skill.RiskHigh},
		{"generator function name", `const G = GeneratorFunction;`, CodeFunctionConstructor, skill.RiskHigh},
		{"string timer", `setTimeout("doIt()", 10);`, CodeStringTimer, skill.RiskMedium},
		{"child process", `const cp = require("child_process");`, CodeChildProcess, skill.RiskHigh},
		{"fs require", `const fs = require('fs');`, CodeFSAccess, skill.RiskHigh},
		{"fs promises import", `import { readFile } from "node:fs/promises";`, CodeFSAccess, skill.RiskHigh},
		{"process module", `const p = require("process");`, CodeProcessModule, skill.RiskHigh},
		{"vm module", `const vm = require("vm");`, CodeVMModule, skill.RiskHigh},
		{"process exit", `process.exit(1);`, CodeProcessExit, skill.RiskHigh},
		{"process env", `const k = process.env.HOME;`, CodeProcessAccess, skill.RiskMedium},
	}
	a := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := a.Audit(artifact(tt.src))
			assert.False(t, report.Passed)
			assert.Contains(t, codes(report), tt.code)
			assert.GreaterOrEqual(t, report.RiskLevel.Rank(), tt.level.Rank())
			assert.NotEmpty(t, report.Recommendations)
		})
	}
}

func TestAuditSafeSource(t *testing.T) {
	src := `"use strict";
function main(args) {
  const evaluate = (x) => x * 2;
  setTimeout(() => {}, 1);
  return { doubled: evaluate(args.value) };
}
module.exports = { default: main };`
	report := New(0).Audit(artifact(src))
	assert.True(t, report.Passed)
	assert.Equal(t, skill.RiskSafe, report.RiskLevel)
	assert.Empty(t, report.Issues)
}

func TestAuditFirstMatchPerPattern(t *testing.T) {
	report := New(0).Audit(artifact(`eval("a"); eval("b"); eval("c");`))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, `eval(`, report.Issues[0].Snippet)
	assert.Len(t, report.Recommendations, 1)
}

func TestAuditRedos(t *testing.T) {
	a := New(0)

	report := a.Audit(artifact(`const re = /^(a+)+$/; re.test(s);`))
	assert.Contains(t, codes(report), CodeRedos)
	assert.Equal(t, skill.RiskMedium, report.RiskLevel)
	assert.False(t, report.Passed)

	report = a.Audit(artifact(`const re = new RegExp("(\\w*)*x");`))
	assert.Contains(t, codes(report), CodeRedos)

	report = a.Audit(artifact(`const re = /^[a-z]+\d*$/; const half = total / 2 / 3;`))
	assert.NotContains(t, codes(report), CodeRedos)
}

func TestAuditDependenciesAndComplexity(t *testing.T) {
	art := &skill.CompiledArtifact{
		ExecutableText:  `module.exports = {}`,
		ComplexityScore: 500,
		Dependencies: []skill.Dependency{
			{Module: "./helper", Category: skill.CategoryRelative},
			{Module: "lodash", Category: skill.CategoryExternal},
		},
	}
	report := New(200).Audit(art)
	assert.ElementsMatch(t, []string{CodeRelativeDependency, CodeHighComplexity}, codes(report))
	assert.Equal(t, skill.RiskLow, report.RiskLevel)
	assert.True(t, report.Passed)

	art.Dependencies = append(art.Dependencies, skill.Dependency{Module: "https://evil.test/x.js", Category: skill.CategoryRemote})
	report = New(1000).Audit(art)
	assert.Equal(t, []string{CodeRelativeDependency, CodeRemoteDependency}, codes(report))
	assert.Equal(t, skill.RiskHigh, report.RiskLevel)
	assert.False(t, report.Passed)
}

func TestAuditDoesNotMutateArtifact(t *testing.T) {
	art := artifact(`eval("x")`)
	art.Dependencies = []skill.Dependency{{Module: "./a", Category: skill.CategoryRelative}}
	before := art.Clone()
	New(0).Audit(art)
	assert.Equal(t, before, art)
}

func TestMerge(t *testing.T) {
	static := NewReport([]skill.SecurityIssue{{Level: skill.RiskLow, Code: CodeHighComplexity}}, 0)
	static.DurationMs = 3
	runtime := NewReport([]skill.SecurityIssue{{Level: skill.RiskMedium, Code: CodeStringTimer}}, 0)
	runtime.DurationMs = 4

	merged := Merge(static, runtime)
	assert.Equal(t, skill.RiskMedium, merged.RiskLevel)
	assert.False(t, merged.Passed)
	assert.Equal(t, int64(7), merged.DurationMs)
	assert.Len(t, merged.Issues, 2)
	assert.Len(t, merged.Recommendations, 2)

	// inputs untouched
	assert.Len(t, static.Issues, 1)
	assert.True(t, static.Passed)

	assert.Equal(t, static, Merge(static, nil))
	assert.NotSame(t, static, Merge(static, nil))
}

func TestMergeDeduplicatesRecommendations(t *testing.T) {
	a := NewReport([]skill.SecurityIssue{{Level: skill.RiskLow, Code: CodeRelativeDependency}}, 0)
	b := NewReport([]skill.SecurityIssue{{Level: skill.RiskLow, Code: CodeRelativeDependency}}, 0)
	merged := Merge(a, b)
	assert.Len(t, merged.Issues, 2)
	assert.Len(t, merged.Recommendations, 1)
	assert.True(t, merged.Passed)
}

var dangerous = []struct {
	snippet string
	code    string
}{
	{`eval(input)`, CodeEval},
	{`new Function("return 1")`, CodeFunctionConstructor},
	{`setInterval('tick()', 5)`, CodeStringTimer},
	{`require("child_process")`, CodeChildProcess},
	{`require("fs")`, CodeFSAccess},
	{`require("vm")`, CodeVMModule},
	{`process.exit(0)`, CodeProcessExit},
}

func TestAuditPropertyForbiddenPatternNeverPasses(t *testing.T) {
	a := New(0)
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[a-z ;=0-9]{0,30}`).Draw(t, "prefix")
		suffix := rapid.StringMatching(`[a-z ;=0-9]{0,30}`).Draw(t, "suffix")
		d := rapid.SampledFrom(dangerous).Draw(t, "pattern")

		report := a.Audit(artifact(prefix + "\n" + d.snippet + "\n" + suffix))

		require.False(t, report.Passed)
		require.GreaterOrEqual(t, report.RiskLevel.Rank(), skill.RiskMedium.Rank())
		require.Contains(t, codes(report), d.code)
	})
}

func TestAuditPropertySafeSourcePasses(t *testing.T) {
	a := New(0)
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfN(rapid.StringMatching(`[a-d][a-z]{2,6}`), 1, 8).Draw(t, "names")
		var b strings.Builder
		for i, n := range names {
			b.WriteString("const v_" + n + " = args.x + " + string(rune('0'+i%10)) + ";\n")
		}
		b.WriteString("module.exports = { default: (args) => ({ ok: true }) };\n")

		report := a.Audit(artifact(b.String()))
		require.True(t, report.Passed)
		require.Empty(t, report.Issues)
	})
}
