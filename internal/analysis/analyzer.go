// Package analysis provides per-language static analyzers for submitted tool
// code. Analyzers are pure: they hold no state across calls and never execute
// the code they inspect.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Severity levels for security findings.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name back to its level. Unknown names
// map to SeverityMedium so a corrupt artifact never silently downgrades.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// MarshalJSON encodes severity as its name so persisted artifacts stay
// readable and stable across releases.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	*s = ParseSeverity(name)
	return nil
}

// Finding categories emitted by analyzers.
const (
	CategoryDeniedImport   = "denied_import"
	CategoryDeniedFunction = "denied_function"
	CategoryDynamicExec    = "dynamic_exec"
	CategoryProcessSpawn   = "process_spawn"
	CategoryNetworkAccess  = "network_access"
	CategoryFilesystem     = "filesystem_access"
	CategoryPatternRisk    = "pattern_risk"
)

// SecurityIssue is a single raw finding. Immutable once produced.
type SecurityIssue struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Line        int      `json:"line"`
	Snippet     string   `json:"snippet"`
	Description string   `json:"description"`
}

// Ref records one occurrence of a named import or call with its location.
type Ref struct {
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// StructuralFacts is the policy-independent structural summary of the code.
// The policy evaluator matches these against the active denylists, so a
// policy change never requires re-parsing.
type StructuralFacts struct {
	Lines             int      `json:"lines"`
	Branches          int      `json:"branches"`
	Loops             int      `json:"loops"`
	MaxNestingDepth   int      `json:"max_nesting_depth"`
	Imports           []Ref    `json:"imports,omitempty"`
	Calls             []Ref    `json:"calls,omitempty"`
	Functions         []string `json:"functions,omitempty"`
	UsesRecursion     bool     `json:"uses_recursion"`
	UsesUnboundedLoop bool     `json:"uses_unbounded_loop"`
}

// Outcome is the result of analyzing one submission. Malformed input is
// reported through SyntaxErrors; Analyze never panics on bad input.
type Outcome struct {
	SyntaxErrors []string        `json:"syntax_errors,omitempty"`
	Issues       []SecurityIssue `json:"issues,omitempty"`
	Facts        StructuralFacts `json:"facts"`
	Warnings     []string        `json:"warnings,omitempty"`
	// BestEffort marks outcomes from pattern-based analyzers whose parsing
	// fidelity is lower than a full grammar parser.
	BestEffort bool `json:"best_effort,omitempty"`
}

// Analyzer parses source for one language family and reports findings.
// Implementations must return quickly and respect ctx cancellation between
// phases; they never block on I/O.
type Analyzer interface {
	// Name returns the primary language tag (e.g., "python").
	Name() string

	// Analyze parses code and produces syntax errors, security findings,
	// and structural facts.
	Analyze(ctx context.Context, code string) Outcome
}

// Registry maps language tags to their Analyzer implementations.
type Registry struct {
	analyzers map[string]Analyzer
}

// NewRegistry creates a registry with all supported analyzers. TypeScript
// routes to the JavaScript analyzer.
func NewRegistry() *Registry {
	r := &Registry{
		analyzers: make(map[string]Analyzer),
	}
	r.Register("python", NewPythonAnalyzer())

	js := NewJavaScriptAnalyzer()
	r.Register("javascript", js)
	r.Register("typescript", js)
	return r
}

// Register binds a language tag to an analyzer.
func (r *Registry) Register(language string, a Analyzer) {
	r.analyzers[language] = a
}

// Get returns the analyzer for the given language tag.
func (r *Registry) Get(language string) (Analyzer, error) {
	a, ok := r.analyzers[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: %v)", language, r.Languages())
	}
	return a, nil
}

// Languages returns all registered language tags.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		langs = append(langs, name)
	}
	return langs
}

// maxSnippetLen bounds the source excerpt attached to findings for audit
// display.
const maxSnippetLen = 120

func snippet(line string) string {
	s := strings.TrimSpace(line)
	if len(s) > maxSnippetLen {
		return s[:maxSnippetLen]
	}
	return s
}
