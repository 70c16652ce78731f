// Package compiler turns skill source blocks into executable CommonJS artifacts.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/deps"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// SourceLanguages are the code block languages the compiler accepts
var SourceLanguages = map[string]bool{
	"typescript": true,
	"ts":         true,
	"javascript": true,
	"js":         true,
	"mjs":        true,
	"cjs":        true,
}

// ProtocolAdapter supplies boilerplate for skills that speak a tool protocol
type ProtocolAdapter interface {
	Boilerplate(def *skill.SkillDefinition) (string, bool)
}

// Compiler compiles skill definitions
type Compiler struct {
	resolver *deps.Resolver
	adapters map[string]ProtocolAdapter
	mu       sync.RWMutex
	log      *zap.Logger
}

// New creates a compiler validating dependencies with resolver
func New(resolver *deps.Resolver) *Compiler {
	if resolver == nil {
		resolver = deps.NewResolver(deps.Policy{AllowedBuiltins: deps.DefaultBuiltins})
	}
	return &Compiler{
		resolver: resolver,
		adapters: make(map[string]ProtocolAdapter),
		log:      logger.Named("compiler"),
	}
}

// RegisterAdapter installs the adapter used for skills declaring protocol
func (c *Compiler) RegisterAdapter(protocol string, adapter ProtocolAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[strings.ToLower(protocol)] = adapter
}

// Resolver returns the dependency resolver of the compiler
func (c *Compiler) Resolver() *deps.Resolver {
	return c.resolver
}

// ProgramText assembles adapter boilerplate, auxiliary blocks and the entry
// block, entry last
func (c *Compiler) ProgramText(def *skill.SkillDefinition) (string, error) {
	var blocks []string
	for _, b := range def.Content.CodeBlocks {
		if SourceLanguages[strings.ToLower(b.Language)] && strings.TrimSpace(b.Code) != "" {
			blocks = append(blocks, b.Code)
		}
	}
	if len(blocks) == 0 {
		return "", &skillerr.CodeExtractionError{Skill: def.Metadata.Name, Reason: "no code block in a supported script language"}
	}

	parts := make([]string, 0, len(blocks)+1)
	if protocol := strings.ToLower(def.Metadata.Protocol); protocol != "" {
		c.mu.RLock()
		adapter, ok := c.adapters[protocol]
		c.mu.RUnlock()
		if ok {
			if text, inject := adapter.Boilerplate(def); inject {
				parts = append(parts, text)
			}
		}
	}
	parts = append(parts, blocks[1:]...)
	parts = append(parts, blocks[0])
	return strings.Join(parts, "\n"), nil
}

// Compile extracts, validates and transpiles the skill source. Any error
// diagnostic fails the compile with a CompilationError.
func (c *Compiler) Compile(ctx context.Context, def *skill.SkillDefinition) (*skill.CompiledArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := def.Metadata.Name

	source, err := c.ProgramText(def)
	if err != nil {
		return nil, err
	}

	dependencies := deps.Extract(source)
	if err := c.resolver.Validate(dependencies); err != nil {
		return nil, err
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderTS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2017,
		Sourcemap:  api.SourceMapExternal,
		Sourcefile: name + ".ts",
		LogLevel:   api.LogLevelSilent,
	})

	diagnostics := make([]skill.Diagnostic, 0, len(result.Errors)+len(result.Warnings))
	for _, m := range result.Errors {
		diagnostics = append(diagnostics, toDiagnostic(m, skill.DiagnosticError))
	}
	for _, m := range result.Warnings {
		diagnostics = append(diagnostics, toDiagnostic(m, skill.DiagnosticWarning))
	}

	if len(result.Errors) == 0 {
		if _, err := goja.Compile(name+".js", deps.WrapCommonJS(string(result.Code)), true); err != nil {
			diagnostics = append(diagnostics, syntaxDiagnostic(name+".js", err))
		}
	}

	for _, d := range diagnostics {
		if d.Category == skill.DiagnosticError {
			c.log.Debug("compilation failed", zap.String("skill", name), zap.Int("diagnostics", len(diagnostics)))
			return nil, &skillerr.CompilationError{Skill: name, Diagnostics: diagnostics}
		}
	}

	return &skill.CompiledArtifact{
		ExecutableText:  string(result.Code),
		SourceMap:       string(result.Map),
		Diagnostics:     diagnostics,
		Exports:         Exports(source),
		Dependencies:    dependencies,
		ComplexityScore: Complexity(source),
	}, nil
}

func toDiagnostic(m api.Message, category skill.DiagnosticCategory) skill.Diagnostic {
	d := skill.Diagnostic{
		Message:  m.Text,
		Code:     m.ID,
		Category: category,
	}
	if d.Code == "" {
		d.Code = "ESBUILD"
	}
	if m.Location != nil {
		d.File = m.Location.File
		d.Line = m.Location.Line
		d.Column = m.Location.Column + 1
	}
	return d
}

var linePosition = regexp.MustCompile(`Line (\d+):(\d+)`)

// syntaxDiagnostic converts a goja compile error. Line numbers are shifted
// back by the CommonJS wrapper line.
func syntaxDiagnostic(file string, err error) skill.Diagnostic {
	d := skill.Diagnostic{
		Message:  err.Error(),
		Code:     "SYNTAX",
		Category: skill.DiagnosticError,
		File:     file,
	}
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		d.Message = syntaxErr.Message
	} else {
		d.Code = "COMPILE"
	}
	if m := linePosition.FindStringSubmatch(err.Error()); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		d.Line = max(line-1, 1)
		d.Column = col
	}
	return d
}

// String describes a diagnostic the way compilers print them
func String(d skill.Diagnostic) string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, strings.ToLower(string(d.Category)), d.Message)
	}
	return fmt.Sprintf("%s: %s", strings.ToLower(string(d.Category)), d.Message)
}
