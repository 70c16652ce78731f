package compiler

import (
	"context"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
)

func definition(name string, blocks ...skill.CodeBlock) *skill.SkillDefinition {
	return &skill.SkillDefinition{
		Metadata: skill.SkillMetadata{Name: name, ExecutorType: skill.ExecutorDirect},
		Content:  skill.SkillContent{CodeBlocks: blocks},
	}
}

const doubler = `import { createHash } from "crypto";

interface Args { value: number }

export default function main(args: Args): { doubled: number } {
  if (args.value === undefined) {
    throw new Error("value is required");
  }
  return { doubled: args.value * 2 };
}
`

func TestCompileTypeScript(t *testing.T) {
	c := New(nil)
	art, err := c.Compile(context.Background(), definition("doubler", skill.CodeBlock{Language: "typescript", Code: doubler}))
	require.NoError(t, err)

	assert.Contains(t, art.ExecutableText, "module.exports")
	assert.NotContains(t, art.ExecutableText, "interface Args")
	assert.NotEmpty(t, art.SourceMap)
	assert.Equal(t, []string{"default"}, art.Exports)
	require.Len(t, art.Dependencies, 1)
	assert.Equal(t, "crypto", art.Dependencies[0].Module)
	assert.Equal(t, skill.CategoryBuiltin, art.Dependencies[0].Category)
	assert.Greater(t, art.ComplexityScore, 0)

	vm := goja.New()
	_, err = vm.RunProgram(goja.MustCompile("x.js", deps.WrapCommonJS(art.ExecutableText), true))
	assert.NoError(t, err)
}

func TestCompileNoCodeBlock(t *testing.T) {
	c := New(nil)
	_, err := c.Compile(context.Background(), definition("empty",
		skill.CodeBlock{Language: "bash", Code: "echo hi"},
		skill.CodeBlock{Language: "ts", Code: "   "},
	))
	var ce *skillerr.CodeExtractionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "empty", ce.Skill)
}

func TestCompileSyntaxError(t *testing.T) {
	c := New(nil)
	_, err := c.Compile(context.Background(), definition("broken",
		skill.CodeBlock{Language: "ts", Code: "export default function main(args {\n  return 1;\n}\n"},
	))
	var ce *skillerr.CompilationError
	require.ErrorAs(t, err, &ce)
	require.NotEmpty(t, ce.Diagnostics)
	d := ce.Diagnostics[0]
	assert.Equal(t, skill.DiagnosticError, d.Category)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, "broken.ts", d.File)
	assert.NotEmpty(t, d.Message)
}

func TestCompileRejectsDependenciesBeforeTranspile(t *testing.T) {
	c := New(deps.NewResolver(deps.Policy{AllowedBuiltins: []string{"path"}}))
	for _, src := range []string{
		`import x from "https://cdn.test/x.js"; export default () => x;`,
		`const fs = require("fs"); module.exports = { main: () => fs };`,
		// a syntax error after a bad import still reports the dependency
		`import x from "http://a.test/b.js"; export default function (`,
	} {
		_, err := c.Compile(context.Background(), definition("deps", skill.CodeBlock{Language: "js", Code: src}))
		var dre *skillerr.DependencyResolutionError
		assert.ErrorAs(t, err, &dre, src)
	}
}

type stubAdapter struct{ text string }

func (a stubAdapter) Boilerplate(def *skill.SkillDefinition) (string, bool) {
	return a.text, a.text != ""
}

func TestProgramTextOrder(t *testing.T) {
	c := New(nil)
	c.RegisterAdapter("MCP", stubAdapter{text: "// boilerplate"})

	def := definition("order",
		skill.CodeBlock{Language: "ts", Code: "// entry"},
		skill.CodeBlock{Language: "markdown", Code: "ignored"},
		skill.CodeBlock{Language: "js", Code: "// aux1"},
		skill.CodeBlock{Language: "javascript", Code: "// aux2"},
	)

	text, err := c.ProgramText(def)
	require.NoError(t, err)
	assert.Equal(t, "// aux1\n// aux2\n// entry", text)

	def.Metadata.Protocol = "mcp"
	text, err = c.ProgramText(def)
	require.NoError(t, err)
	assert.Equal(t, "// boilerplate\n// aux1\n// aux2\n// entry", text)

	def.Metadata.Protocol = "grpc"
	text, err = c.ProgramText(def)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "// aux1"))
}

func TestCompileAuxiliaryBlocksVisibleToEntry(t *testing.T) {
	c := New(nil)
	art, err := c.Compile(context.Background(), definition("aux",
		skill.CodeBlock{Language: "ts", Code: "export function run(args: any) { return helper(args.n); }"},
		skill.CodeBlock{Language: "ts", Code: "function helper(n: number) { return n + 1; }"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"run"}, art.Exports)
	assert.Less(t, strings.Index(art.ExecutableText, "function helper"), strings.Index(art.ExecutableText, "function run"))
}

func TestSyntaxDiagnostic(t *testing.T) {
	_, err := goja.Compile("x.js", deps.WrapCommonJS("return {;"), true)
	require.Error(t, err)
	d := syntaxDiagnostic("x.js", err)
	assert.Equal(t, "SYNTAX", d.Code)
	assert.Equal(t, skill.DiagnosticError, d.Category)
	assert.GreaterOrEqual(t, d.Line, 1)
	assert.Contains(t, String(d), "x.js:")
}

func TestComplexity(t *testing.T) {
	assert.Equal(t, 0, Complexity(""))
	assert.Equal(t, 1, Complexity("const a = 1;"))

	// 3 lines, branches: if, &&, ?, ||  functions: function, =>
	src := "function f(a, b) {\n  if (a && b) return a ? 1 : 2;\n  return [1].map((x) => x || 0);\n}"
	assert.Equal(t, 4+2*4+2, Complexity(src))

	// keywords inside strings, comments and optional chains are ignored
	src = "const s = \"if (a && b)\"; // while ?\n/* for case */ const t = o?.p ?? 1;"
	assert.Equal(t, 2+2*1, Complexity(src))
}

func TestExports(t *testing.T) {
	src := `export const a = 1;
export async function handler() {}
export class Tool {}
export { x as y, z, type T };
export default main;
exports.legacy = 1;`
	assert.Equal(t, []string{"a", "handler", "Tool", "default", "y", "z", "legacy"}, Exports(src))
	assert.Equal(t, []string{"default"}, Exports(`module.exports = function () {}`))
	assert.Empty(t, Exports(`const a = 1;`))
}
