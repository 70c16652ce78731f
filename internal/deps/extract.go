// Package deps extracts, classifies and resolves the modules a skill loads.
package deps

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hb-chen/skillexec/internal/skill"
)

var (
	// import x from "m", import {a, b} from "m", import * as ns from "m", import "m"
	staticImport = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(type[ \t]+)?(?:([\w$*{}\s,]+?)[ \t\n]+from[ \t]*)?["']([^"'\n]+)["']`)
	// export * from "m", export { a } from "m"
	exportFrom   = regexp.MustCompile(`\bexport[ \t]+(type[ \t]+)?(\*(?:[ \t]+as[ \t]+[\w$]+)?|\{[^}]*\})[ \t\n]*from[ \t]*["']([^"'\n]+)["']`)
	dynamicCall  = regexp.MustCompile(`\bimport\s*\(\s*["'` + "`" + `]([^"'` + "`" + `\n]+)["'` + "`" + `]\s*\)`)
	requireCall  = regexp.MustCompile(`\brequire\s*\(\s*["'` + "`" + `]([^"'` + "`" + `\n]+)["'` + "`" + `]\s*\)`)
	schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// nodeBuiltins are the standard library module names of the Node runtime
var nodeBuiltins = map[string]bool{
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "diagnostics_channel": true, "dns": true, "domain": true,
	"events": true, "fs": true, "http": true, "http2": true, "https": true,
	"inspector": true, "module": true, "net": true, "os": true, "path": true,
	"perf_hooks": true, "process": true, "punycode": true, "querystring": true,
	"readline": true, "repl": true, "stream": true, "string_decoder": true,
	"sys": true, "timers": true, "tls": true, "trace_events": true, "tty": true,
	"url": true, "util": true, "v8": true, "vm": true, "wasi": true,
	"worker_threads": true, "zlib": true,
}

type match struct {
	pos int
	dep skill.Dependency
}

// Extract returns the modules referenced by source, deduplicated by import
// kind and module name, in the order they first appear. Type-only imports
// are skipped.
func Extract(source string) []skill.Dependency {
	var found []match

	for _, m := range staticImport.FindAllStringSubmatchIndex(source, -1) {
		if m[2] >= 0 {
			continue
		}
		found = append(found, staticMatch(source, m, skill.ImportStatic))
	}
	for _, m := range exportFrom.FindAllStringSubmatchIndex(source, -1) {
		if m[2] >= 0 {
			continue
		}
		found = append(found, staticMatch(source, m, skill.ImportStatic))
	}
	for _, m := range dynamicCall.FindAllStringSubmatchIndex(source, -1) {
		found = append(found, callMatch(source, m, skill.ImportDynamic))
	}
	for _, m := range requireCall.FindAllStringSubmatchIndex(source, -1) {
		found = append(found, callMatch(source, m, skill.ImportRequire))
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	seen := make(map[string]bool, len(found))
	deps := make([]skill.Dependency, 0, len(found))
	for _, f := range found {
		key := f.dep.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		deps = append(deps, f.dep)
	}
	return deps
}

func staticMatch(source string, m []int, kind skill.ImportKind) match {
	module := source[m[6]:m[7]]
	var spec string
	if m[4] >= 0 {
		spec = strings.Join(strings.Fields(source[m[4]:m[5]]), " ")
	}
	return match{pos: m[0], dep: skill.Dependency{
		Module:     module,
		ImportKind: kind,
		Category:   Classify(module),
		Specifier:  spec,
	}}
}

func callMatch(source string, m []int, kind skill.ImportKind) match {
	module := source[m[2]:m[3]]
	return match{pos: m[0], dep: skill.Dependency{
		Module:     module,
		ImportKind: kind,
		Category:   Classify(module),
	}}
}

// Classify applies the category rule to a module name
func Classify(module string) skill.DependencyCategory {
	switch {
	case strings.HasPrefix(module, "node:"):
		return skill.CategoryBuiltin
	case schemePrefix.MatchString(module):
		return skill.CategoryRemote
	case module == "." || module == ".." ||
		strings.HasPrefix(module, "./") || strings.HasPrefix(module, "../") ||
		strings.HasPrefix(module, "/"):
		return skill.CategoryRelative
	case nodeBuiltins[builtinRoot(module)]:
		return skill.CategoryBuiltin
	default:
		return skill.CategoryExternal
	}
}

// BuiltinName strips the node: scheme and any subpath, so "node:fs/promises"
// becomes "fs"
func BuiltinName(module string) string {
	return builtinRoot(strings.TrimPrefix(module, "node:"))
}

func builtinRoot(module string) string {
	if i := strings.IndexByte(module, '/'); i > 0 {
		return module[:i]
	}
	return module
}
