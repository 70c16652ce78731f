package skill

import (
	"slices"
	"time"
)

// ExecutorType is the execution strategy a skill declares
type ExecutorType string

const (
	ExecutorDirect       ExecutorType = "direct"
	ExecutorService      ExecutorType = "service"
	ExecutorDistributed  ExecutorType = "distributed"
	ExecutorPreprocessor ExecutorType = "preprocessor"
	ExecutorStatic       ExecutorType = "static"
	ExecutorInternal     ExecutorType = "internal"
)

// ExecutorTypes lists every known executor type
var ExecutorTypes = []ExecutorType{
	ExecutorDirect,
	ExecutorService,
	ExecutorDistributed,
	ExecutorPreprocessor,
	ExecutorStatic,
	ExecutorInternal,
}

// Valid reports whether t is one of the known executor types
func (t ExecutorType) Valid() bool {
	for _, known := range ExecutorTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SecurityPolicy is the optional per-skill resource policy
type SecurityPolicy struct {
	TimeoutMs  int64    `yaml:"timeout_ms" json:"timeoutMs,omitempty"`
	MemoryMB   int64    `yaml:"memory_mb" json:"memoryMb,omitempty"`
	AllowedEnv []string `yaml:"allowed_env" json:"allowedEnv,omitempty"`
}

// SkillMetadata represents the YAML frontmatter in SKILL.md
type SkillMetadata struct {
	Name             string          `yaml:"name" json:"name"`
	Description      string          `yaml:"description" json:"description,omitempty"`
	License          string          `yaml:"license" json:"license,omitempty"`
	ExecutorType     ExecutorType    `yaml:"executor" json:"executorType"`
	Cacheable        bool            `yaml:"cacheable" json:"cacheable"`
	SandboxExecution *bool           `yaml:"sandbox" json:"sandboxExecution,omitempty"`
	Protocol         string          `yaml:"protocol" json:"protocol,omitempty"`
	Security         *SecurityPolicy `yaml:"security" json:"security,omitempty"`
}

// Sandboxed reports whether the skill runs in the full sandbox profile.
// Skills must opt out explicitly.
func (m SkillMetadata) Sandboxed() bool {
	return m.SandboxExecution == nil || *m.SandboxExecution
}

// PrimaryExecutor returns the declared executor type, defaulting to direct
func (m SkillMetadata) PrimaryExecutor() ExecutorType {
	if m.ExecutorType == "" {
		return ExecutorDirect
	}
	return m.ExecutorType
}

// CodeBlock is one fenced source block of a skill
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// SkillContent is the loaded body of a skill
type SkillContent struct {
	Raw          string         `json:"raw"`
	CodeBlocks   []CodeBlock    `json:"codeBlocks"`
	FrontMatter  map[string]any `json:"frontMatter,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	BasePath     string         `json:"basePath,omitempty"`
	LoadedAt     time.Time      `json:"loadedAt"`
}

// SkillDefinition is an author-supplied bundle of metadata and source
type SkillDefinition struct {
	Metadata SkillMetadata
	Content  SkillContent
}

// Name returns the skill name
func (d *SkillDefinition) Name() string {
	return d.Metadata.Name
}

// ImportKind is the syntactic form a dependency was referenced with
type ImportKind string

const (
	ImportStatic  ImportKind = "static"
	ImportDynamic ImportKind = "dynamic"
	ImportRequire ImportKind = "require"
)

// DependencyCategory classifies a module reference
type DependencyCategory string

const (
	CategoryBuiltin  DependencyCategory = "builtin"
	CategoryExternal DependencyCategory = "external"
	CategoryRelative DependencyCategory = "relative"
	CategoryRemote   DependencyCategory = "remote"
)

// Dependency is a module referenced by skill source
type Dependency struct {
	Module     string             `json:"module"`
	ImportKind ImportKind         `json:"importKind"`
	Category   DependencyCategory `json:"category"`
	Specifier  string             `json:"specifier,omitempty"`
}

// Key identifies a dependency for deduplication and memoisation
func (d Dependency) Key() string {
	return string(d.ImportKind) + ":" + d.Module
}

// DiagnosticCategory mirrors the compiler message categories
type DiagnosticCategory string

const (
	DiagnosticError      DiagnosticCategory = "Error"
	DiagnosticWarning    DiagnosticCategory = "Warning"
	DiagnosticSuggestion DiagnosticCategory = "Suggestion"
	DiagnosticMessage    DiagnosticCategory = "Message"
)

// Diagnostic is a single compiler message
type Diagnostic struct {
	Message  string             `json:"message"`
	Code     string             `json:"code"`
	Category DiagnosticCategory `json:"category"`
	File     string             `json:"file,omitempty"`
	Line     int                `json:"line,omitempty"`
	Column   int                `json:"column,omitempty"`
}

// CompiledArtifact is the directly executable form of a skill's source
type CompiledArtifact struct {
	ExecutableText  string       `json:"executableText"`
	SourceMap       string       `json:"sourceMap,omitempty"`
	Diagnostics     []Diagnostic `json:"diagnostics,omitempty"`
	Exports         []string     `json:"exports,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
	ComplexityScore int          `json:"complexityScore"`
}

// Clone returns a deep copy of the artifact
func (a *CompiledArtifact) Clone() *CompiledArtifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Diagnostics = slices.Clone(a.Diagnostics)
	c.Exports = slices.Clone(a.Exports)
	c.Dependencies = slices.Clone(a.Dependencies)
	return &c
}

// RiskLevel is the ordinal severity of an audit
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels; unknown levels rank as high
func (r RiskLevel) Rank() int {
	switch r {
	case RiskSafe, "":
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	default:
		return 3
	}
}

// Passes reports whether the level is acceptable for execution
func (r RiskLevel) Passes() bool {
	return r.Rank() <= RiskLow.Rank()
}

// MaxRisk returns the most severe of the given levels
func MaxRisk(levels ...RiskLevel) RiskLevel {
	max := RiskSafe
	for _, l := range levels {
		if l.Rank() > max.Rank() {
			max = l
		}
	}
	return max
}

// SecurityIssue is one finding of an audit
type SecurityIssue struct {
	Level   RiskLevel `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Snippet string    `json:"snippet,omitempty"`
}

// SecurityReport is the outcome of a static or runtime audit
type SecurityReport struct {
	Passed          bool            `json:"passed"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	Issues          []SecurityIssue `json:"issues"`
	Recommendations []string        `json:"recommendations"`
	DurationMs      int64           `json:"durationMs"`
}

// Clone returns a deep copy of the report
func (r *SecurityReport) Clone() *SecurityReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Issues = slices.Clone(r.Issues)
	c.Recommendations = slices.Clone(r.Recommendations)
	return &c
}

// ExecutionRequest represents a request to execute a skill
type ExecutionRequest struct {
	ID          string         `json:"id,omitempty"`
	SkillName   string         `json:"skillName"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// ErrorInfo is the sanitised error record surfaced to callers
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ExecutionMetadata describes how a response was produced
type ExecutionMetadata struct {
	ExecutionTime time.Duration `json:"executionTime"`
	MemoryUsage   int64         `json:"memoryUsage"`
	TokenUsage    int64         `json:"tokenUsage"`
	CacheLookup   bool          `json:"cacheLookup"`
	CacheHit      bool          `json:"cacheHit"`
	ExecutionType ExecutorType  `json:"executionType"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ExecutionResponse represents the result of executing a skill
type ExecutionResponse struct {
	Success        bool              `json:"success"`
	Result         any               `json:"result,omitempty"`
	Error          *ErrorInfo        `json:"error,omitempty"`
	Metadata       ExecutionMetadata `json:"metadata"`
	Warnings       []string          `json:"warnings,omitempty"`
	SecurityReport *SecurityReport   `json:"securityReport,omitempty"`
}
