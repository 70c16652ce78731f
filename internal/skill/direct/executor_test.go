package direct

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/audit"
	"github.com/hb-chen/skillexec/internal/codecache"
	"github.com/hb-chen/skillexec/internal/compiler"
	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/sandbox"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
)

type fixture struct {
	registry *skill.Registry
	cache    *codecache.Cache
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := skill.NewRegistry()
	cache := codecache.New(16, time.Hour)
	sb, err := sandbox.New(sandbox.Limits{ExecutionTimeoutMs: 2000, MemoryLimitMB: 256})
	require.NoError(t, err)

	exec, err := NewExecutor(Options{
		Registry: registry,
		Compiler: compiler.New(deps.NewResolver(deps.Policy{AllowedBuiltins: deps.DefaultBuiltins})),
		Auditor:  audit.New(audit.DefaultComplexityCeiling),
		Loader:   codecache.NewLoader(cache, 2),
		Sandbox:  sb,
	})
	require.NoError(t, err)
	return &fixture{registry: registry, cache: cache, exec: exec}
}

func (f *fixture) register(t *testing.T, meta skill.SkillMetadata, code string) {
	t.Helper()
	require.NoError(t, f.registry.Register(&skill.SkillDefinition{
		Metadata: meta,
		Content: skill.SkillContent{
			Raw:        code,
			CodeBlocks: []skill.CodeBlock{{Language: "ts", Code: code}},
			LoadedAt:   time.Now(),
		},
	}))
}

const doubler = `export default function main(args: { value: number }) {
  return { doubled: args.value * 2 };
}`

func TestExecuteCachesCompiledSkill(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "doubler", Cacheable: true}, doubler)

	req := &skill.ExecutionRequest{ID: "r1", SkillName: "doubler", Parameters: map[string]any{"value": 21}}
	resp, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"doubled": 42.0}, resp.Result)
	assert.True(t, resp.Metadata.CacheLookup)
	assert.False(t, resp.Metadata.CacheHit)
	assert.Equal(t, skill.ExecutorDirect, resp.Metadata.ExecutionType)
	assert.Positive(t, resp.Metadata.TokenUsage)
	require.NotNil(t, resp.SecurityReport)
	assert.True(t, resp.SecurityReport.Passed)

	resp, err = f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.CacheHit)
	assert.Equal(t, 1, f.cache.Len())
}

func TestExecuteUncacheableSkillSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "doubler"}, doubler)

	resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "doubler", Parameters: map[string]any{"value": 1}})
	require.NoError(t, err)
	assert.False(t, resp.Metadata.CacheLookup)
	assert.False(t, resp.Metadata.CacheHit)
	assert.Equal(t, 0, f.cache.Len())
}

func TestExecuteFailsClosedOnAudit(t *testing.T) {
	for _, cacheable := range []bool{true, false} {
		f := newFixture(t)
		f.register(t, skill.SkillMetadata{Name: "evil", Cacheable: cacheable},
			`export default function main(args: any) { return eval(args.code); }`)

		resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "evil"})
		require.Error(t, err)
		var secErr *skillerr.SecurityValidationError
		require.ErrorAs(t, err, &secErr)
		assert.Equal(t, skill.RiskHigh, secErr.RiskLevel)
		assert.False(t, skillerr.FallbackEligible(err))
		assert.False(t, resp.Success)
		assert.Equal(t, "SECURITY_VALIDATION_ERROR", resp.Error.Code)
		assert.Equal(t, 0, f.cache.Len())
	}
}

func TestExecuteTimeoutIsNotCachedAsResult(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "spin", Cacheable: true},
		`export default function main() { for (;;) {} }`)

	resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "spin", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	var limitErr *skillerr.ResourceLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, skillerr.ResourceTime, limitErr.Resource)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Result)
}

func TestExecuteResolvesDependencies(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "joiner", Cacheable: true},
		`import * as path from "path";
export default function main(args: { parts: string[] }) { return path.join(...args.parts); }`)

	resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{
		SkillName:  "joiner",
		Parameters: map[string]any{"parts": []any{"a", "b", "c"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", resp.Result)
}

func TestExecuteReducedProfile(t *testing.T) {
	f := newFixture(t)
	off := false
	f.register(t, skill.SkillMetadata{Name: "plain", SandboxExecution: &off},
		`export default function main() { return typeof setTimeout; }`)

	resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "undefined", resp.Result)
}

func TestExecuteRuntimeIssuesBecomeWarnings(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "dyn"},
		`export default function main() {
  const name = "pa" + "th";
  try { require(name + "x"); } catch (e) {}
  return "ok";
}`)

	resp, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "dyn"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], audit.CodeUndeclaredRequire)
	assert.Equal(t, skill.RiskMedium, resp.SecurityReport.RiskLevel)
}

func TestExecuteInvalidRequest(t *testing.T) {
	f := newFixture(t)

	for _, req := range []*skill.ExecutionRequest{
		nil,
		{SkillName: ""},
		{SkillName: "../etc"},
		{SkillName: "ok", Timeout: -time.Second},
	} {
		resp, err := f.exec.Execute(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "EXECUTION_ERROR", resp.Error.Code)
	}

	_, err := f.exec.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "missing"})
	assert.True(t, errors.Is(err, skill.ErrSkillNotFound))
}

func TestAsReportsExecutorType(t *testing.T) {
	f := newFixture(t)
	f.register(t, skill.SkillMetadata{Name: "doubler"}, doubler)

	pre := f.exec.As(skill.ExecutorPreprocessor)
	assert.Equal(t, skill.ExecutorPreprocessor, pre.Type())
	assert.Equal(t, skill.ExecutorDirect, f.exec.Type())

	resp, err := pre.Execute(context.Background(), &skill.ExecutionRequest{SkillName: "doubler", Parameters: map[string]any{"value": 2}})
	require.NoError(t, err)
	assert.Equal(t, skill.ExecutorPreprocessor, resp.Metadata.ExecutionType)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("abcd"))
	assert.Equal(t, int64(2), EstimateTokens("abcde"))
}
