package audit

import (
	"regexp"
	"strings"

	"github.com/hb-chen/skillexec/internal/skill"
)

// Issue codes
const (
	CodeEval                = "EVAL_USAGE"
	CodeFunctionConstructor = "FUNCTION_CONSTRUCTOR"
	CodeStringTimer         = "STRING_TIMER"
	CodeChildProcess        = "CHILD_PROCESS_ACCESS"
	CodeFSAccess            = "FS_ACCESS"
	CodeProcessModule       = "PROCESS_MODULE"
	CodeVMModule            = "VM_MODULE"
	CodeProcessExit         = "PROCESS_EXIT"
	CodeProcessAccess       = "PROCESS_ACCESS"
	CodeRedos               = "REDOS_RISK"
	CodeRelativeDependency  = "RELATIVE_DEPENDENCY"
	CodeRemoteDependency    = "REMOTE_DEPENDENCY"
	CodeHighComplexity      = "HIGH_COMPLEXITY"
	CodeUndeclaredRequire   = "UNDECLARED_REQUIRE"
)

// forbiddenPattern is one entry of the static scan table
type forbiddenPattern struct {
	Code    string
	Pattern *regexp.Regexp
	Level   skill.RiskLevel
	Message string
}

// moduleLoad matches require("<name>") and `from "<name>"` with an optional node: scheme
func moduleLoad(names string) *regexp.Regexp {
	return regexp.MustCompile(`(?:\brequire\s*\(\s*|\bfrom\s+|\bimport\s*\(\s*|\bimport\s+)["'` + "`" + `](?:node:)?(?:` + names + `)["'` + "`" + `]`)
}

var forbiddenPatterns = []forbiddenPattern{
	{
		Code:    CodeEval,
		Pattern: regexp.MustCompile(`\beval\s*\(`),
		Level:   skill.RiskHigh,
		Message: "eval() synthesises code at runtime",
	},
	{
		Code:    CodeFunctionConstructor,
		Pattern: regexp.MustCompile(`\bnew\s+Function\s*\(|(?:^|[^\w$.])Function\s*\(\s*["'` + "`" + `]|\.constructor\s*\(|\b(?:Async)?GeneratorFunction\b`),
		Level:   skill.RiskHigh,
		Message: "Function constructor builds code from strings",
	},
	{
		Code:    CodeStringTimer,
		Pattern: regexp.MustCompile(`\bset(?:Timeout|Interval|Immediate)\s*\(\s*["'` + "`" + `]`),
		Level:   skill.RiskMedium,
		Message: "timer called with a string callback evaluates code",
	},
	{
		Code:    CodeChildProcess,
		Pattern: regexp.MustCompile(`\bchild_process\b`),
		Level:   skill.RiskHigh,
		Message: "child_process spawns host processes",
	},
	{
		Code:    CodeFSAccess,
		Pattern: moduleLoad(`fs|fs/promises`),
		Level:   skill.RiskHigh,
		Message: "file system module access",
	},
	{
		Code:    CodeProcessModule,
		Pattern: moduleLoad(`process`),
		Level:   skill.RiskHigh,
		Message: "process module access",
	},
	{
		Code:    CodeVMModule,
		Pattern: moduleLoad(`vm`),
		Level:   skill.RiskHigh,
		Message: "vm module compiles code outside the sandbox",
	},
	{
		Code:    CodeProcessExit,
		Pattern: regexp.MustCompile(`\bprocess\s*\.\s*(?:exit|abort|kill|reallyExit)\s*\(`),
		Level:   skill.RiskHigh,
		Message: "abrupt process termination",
	},
	{
		Code:    CodeProcessAccess,
		Pattern: regexp.MustCompile(`\bprocess\s*\.\s*(?:env|argv|cwd|binding|mainModule|chdir|execPath)\b`),
		Level:   skill.RiskMedium,
		Message: "access to host process state",
	},
}

var recommendations = map[string]string{
	CodeEval:                "Remove eval(); parse data with JSON.parse instead.",
	CodeFunctionConstructor: "Replace the Function constructor with a regular function.",
	CodeStringTimer:         "Pass a function, not a string, to timers.",
	CodeChildProcess:        "Skills cannot spawn processes; move the work into a service executor.",
	CodeFSAccess:            "Skills cannot touch the file system; pass data through args.",
	CodeProcessModule:       "Do not load the process module.",
	CodeVMModule:            "Do not load the vm module.",
	CodeProcessExit:         "Return from the entry function instead of exiting the process.",
	CodeProcessAccess:       "Read configuration from the env snapshot or args, not process.",
	CodeRedos:               "Rewrite regular expressions without nested quantifiers.",
	CodeRelativeDependency:  "Keep relative modules inside the skill directory and review them.",
	CodeRemoteDependency:    "Remote modules are never loaded; vendor the code into the skill.",
	CodeHighComplexity:      "Split the skill into smaller skills.",
	CodeUndeclaredRequire:   "Require modules with a literal name so they can be resolved before execution.",
}

// Recommendation returns the remediation hint for an issue code
func Recommendation(code string) string {
	return recommendations[code]
}

var (
	regexLiteral = regexp.MustCompile(`/((?:\\.|[^/\\\n])+)/[dgimsuvy]*`)
	regexpCall   = regexp.MustCompile(`\bRegExp\s*\(\s*(?:"((?:\\.|[^"\\])*)"|'((?:\\.|[^'\\])*)'|` + "`((?:\\\\.|[^`\\\\])*)`" + `)`)
	// a quantified group that itself contains a quantifier, as in (a+)+ or (\w*)*
	nestedQuantifier = regexp.MustCompile(`\([^()]*[+*][^()]*\)\s*(?:[+*]|\{\d)`)
)

// ScanText runs the forbidden-pattern table over text. The first match of
// each pattern produces one issue.
func ScanText(text string) []skill.SecurityIssue {
	var issues []skill.SecurityIssue
	for _, p := range forbiddenPatterns {
		loc := p.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		issues = append(issues, skill.SecurityIssue{
			Level:   p.Level,
			Code:    p.Code,
			Message: p.Message,
			Snippet: snippet(text[loc[0]:loc[1]]),
		})
	}
	return issues
}

// scanRedos flags regular expressions with nested quantifiers
func scanRedos(text string) []skill.SecurityIssue {
	var candidates []string
	for _, m := range regexLiteral.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range regexpCall.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1]+m[2]+m[3])
	}

	for _, c := range candidates {
		if nestedQuantifier.MatchString(c) {
			return []skill.SecurityIssue{{
				Level:   skill.RiskMedium,
				Code:    CodeRedos,
				Message: "regular expression with nested quantifiers may backtrack catastrophically",
				Snippet: snippet(c),
			}}
		}
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
