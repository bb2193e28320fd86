// Package policy defines the security policy model and the pure evaluator
// that matches analysis results against a policy. Evaluation consumes the
// structural facts recorded at analysis time, so re-evaluating under a newer
// policy never requires re-parsing the submission.
package policy

import (
	"agent-toolgate/internal/analysis"
	"agent-toolgate/pkg/ruleset"
)

// Rule identifiers. Stable across releases; persisted in audit records and
// exposed through the API.
const (
	RuleDeniedModule   = "IMP001"
	RuleDeniedFunction = "FUNC001"
	RuleDynamicExec    = "EXEC001"
	RuleProcessSpawn   = "SYS001"
	RuleNetworkAccess  = "NET001"
	RuleFilesystem     = "FS001"
	RulePatternRisk    = "PAT001"
	RuleMemoryLimit    = "RES101"
	RuleCPULimit       = "RES102"
	RuleComplexity     = "RES103"
	RuleNesting        = "RES104"
	RuleRecursion      = "RES105"
)

// ResourceLimits caps the statically estimated cost of a submission. A zero
// value disables that limit.
type ResourceLimits struct {
	MaxMemoryBytes  int64   `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxCPUSeconds   float64 `yaml:"max_cpu_seconds" json:"max_cpu_seconds"`
	MaxComplexity   int     `yaml:"max_complexity" json:"max_complexity"`
	MaxNestingDepth int     `yaml:"max_nesting_depth" json:"max_nesting_depth"`
}

// SecurityPolicy is one versioned set of validation rules. Policies are
// value types; the active policy is swapped atomically by its Source.
type SecurityPolicy struct {
	PolicyID string `yaml:"policy_id" json:"policy_id"`
	Version  int    `yaml:"version" json:"version"`

	// AllowedModules exempts modules from DeniedModules. Empty means no
	// exemptions.
	AllowedModules  []string `yaml:"allowed_modules" json:"allowed_modules,omitempty"`
	DeniedModules   []string `yaml:"denied_modules" json:"denied_modules,omitempty"`
	DeniedFunctions []string `yaml:"denied_functions" json:"denied_functions,omitempty"`

	Limits         ResourceLimits `yaml:"limits" json:"limits"`
	AllowRecursion bool           `yaml:"allow_recursion" json:"allow_recursion"`

	// RejectAbove is the severity at or above which a violation makes the
	// submission invalid ("low", "medium", "high", "critical"). Empty means
	// "high".
	RejectAbove string `yaml:"reject_above" json:"reject_above,omitempty"`

	// DisabledRules lists rule IDs the evaluator skips entirely.
	DisabledRules []string `yaml:"disabled_rules" json:"disabled_rules,omitempty"`
}

// Violation is one policy finding against a submission.
type Violation struct {
	RuleID      string            `json:"rule_id"`
	Severity    analysis.Severity `json:"severity"`
	Line        int               `json:"line,omitempty"`
	Message     string            `json:"message"`
	Remediation string            `json:"remediation,omitempty"`
}

// RejectThreshold returns the severity at or above which violations reject.
func (p SecurityPolicy) RejectThreshold() analysis.Severity {
	if p.RejectAbove == "" {
		return analysis.SeverityHigh
	}
	return analysis.ParseSeverity(p.RejectAbove)
}

// ShouldReject reports whether any violation meets the rejection threshold.
func (p SecurityPolicy) ShouldReject(violations []Violation) bool {
	threshold := p.RejectThreshold()
	for _, v := range violations {
		if v.Severity >= threshold {
			return true
		}
	}
	return false
}

func (p SecurityPolicy) ruleDisabled(ruleID string) bool {
	for _, r := range p.DisabledRules {
		if r == ruleID {
			return true
		}
	}
	return false
}

func (p SecurityPolicy) moduleDenied(module, root string) bool {
	for _, a := range p.AllowedModules {
		if a == module || a == root {
			return false
		}
	}
	for _, d := range p.DeniedModules {
		if d == module || d == root {
			return true
		}
	}
	return false
}

func (p SecurityPolicy) functionDenied(name string) bool {
	for _, d := range p.DeniedFunctions {
		if d == name {
			return true
		}
	}
	return false
}

// Default returns the baseline policy: the union of the per-language
// denylists, execution-profile limits, and recursion disallowed.
func Default() SecurityPolicy {
	merged := ruleset.Merged()
	return SecurityPolicy{
		PolicyID:        "default",
		Version:         1,
		DeniedModules:   merged.DeniedModules,
		DeniedFunctions: merged.DeniedFunctions,
		Limits: ResourceLimits{
			MaxMemoryBytes:  512 << 20,
			MaxCPUSeconds:   30.0,
			MaxComplexity:   50,
			MaxNestingDepth: 10,
		},
		AllowRecursion: false,
		RejectAbove:    "high",
	}
}

// Permissive returns a relaxed policy for trusted tool authors: recursion
// allowed, a higher complexity ceiling, and rejection only on critical
// findings.
func Permissive() SecurityPolicy {
	p := Default()
	p.PolicyID = "permissive"
	p.AllowRecursion = true
	p.Limits.MaxComplexity = 100
	p.RejectAbove = "critical"
	return p
}
