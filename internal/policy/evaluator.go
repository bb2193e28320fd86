package policy

import (
	"fmt"
	"sort"
	"strings"

	"agent-toolgate/internal/analysis"
)

// Per-rule fixed severities. Issue-derived rules keep one severity per class
// so evaluation stays deterministic regardless of analyzer tuning.
var ruleSeverity = map[string]analysis.Severity{
	RuleDeniedModule:   analysis.SeverityCritical,
	RuleDeniedFunction: analysis.SeverityHigh,
	RuleDynamicExec:    analysis.SeverityCritical,
	RuleProcessSpawn:   analysis.SeverityCritical,
	RuleNetworkAccess:  analysis.SeverityHigh,
	RuleFilesystem:     analysis.SeverityHigh,
	RulePatternRisk:    analysis.SeverityMedium,
	RuleMemoryLimit:    analysis.SeverityHigh,
	RuleCPULimit:       analysis.SeverityHigh,
	RuleComplexity:     analysis.SeverityMedium,
	RuleNesting:        analysis.SeverityMedium,
	RuleRecursion:      analysis.SeverityHigh,
}

// ruleRank orders violations in output: access rules first, then resource
// rules, ties broken by line number.
var ruleRank = map[string]int{
	RuleDeniedModule:   0,
	RuleDeniedFunction: 1,
	RuleDynamicExec:    2,
	RuleProcessSpawn:   3,
	RuleNetworkAccess:  4,
	RuleFilesystem:     5,
	RulePatternRisk:    6,
	RuleMemoryLimit:    7,
	RuleCPULimit:       8,
	RuleComplexity:     9,
	RuleNesting:        10,
	RuleRecursion:      11,
}

var ruleRemediation = map[string]string{
	RuleDeniedModule:   "remove the import or request an allowlist entry for the module",
	RuleDeniedFunction: "replace the call with a sandbox-provided capability",
	RuleDynamicExec:    "remove dynamic code execution; tool code must be fully static",
	RuleProcessSpawn:   "remove process spawning; tools run inside a managed sandbox",
	RuleNetworkAccess:  "use the declared network capability instead of raw sockets or HTTP clients",
	RuleFilesystem:     "restrict file access to the provided temp directory",
	RulePatternRisk:    "rewrite the flagged construct; it matches a known unsafe pattern",
	RuleMemoryLimit:    "reduce data retained in memory or split the tool into smaller steps",
	RuleCPULimit:       "reduce loop work or split the tool into smaller steps",
	RuleComplexity:     "simplify control flow to lower the complexity score",
	RuleNesting:        "flatten deeply nested blocks",
	RuleRecursion:      "rewrite the recursive function iteratively",
}

// issueRule maps intrinsic analyzer categories to rule classes. Denylist
// categories are absent on purpose: those violations are derived from the
// structural facts so the active policy, not the analyzer baseline, decides
// them.
var issueRule = map[string]string{
	analysis.CategoryDynamicExec:   RuleDynamicExec,
	analysis.CategoryProcessSpawn:  RuleProcessSpawn,
	analysis.CategoryNetworkAccess: RuleNetworkAccess,
	analysis.CategoryFilesystem:    RuleFilesystem,
	analysis.CategoryPatternRisk:   RulePatternRisk,
}

// Evaluate matches an analysis outcome and resource estimate against a
// policy. Pure: same inputs always produce the same ordered violations.
func Evaluate(outcome analysis.Outcome, estimate analysis.ResourceEstimate, p SecurityPolicy) []Violation {
	var out []Violation

	add := func(ruleID string, line int, message string) {
		if p.ruleDisabled(ruleID) {
			return
		}
		out = append(out, Violation{
			RuleID:      ruleID,
			Severity:    ruleSeverity[ruleID],
			Line:        line,
			Message:     message,
			Remediation: ruleRemediation[ruleID],
		})
	}

	for _, imp := range outcome.Facts.Imports {
		root := rootModule(imp.Name)
		if p.moduleDenied(imp.Name, root) {
			add(RuleDeniedModule, imp.Line, fmt.Sprintf("import of denied module %q", imp.Name))
		}
	}

	for _, call := range outcome.Facts.Calls {
		base := call.Name
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[i+1:]
		}
		if p.functionDenied(base) || p.functionDenied(call.Name) {
			add(RuleDeniedFunction, call.Line, fmt.Sprintf("call to denied function %s()", call.Name))
		}
	}

	for _, issue := range outcome.Issues {
		ruleID, ok := issueRule[issue.Category]
		if !ok {
			continue
		}
		add(ruleID, issue.Line, issue.Description)
	}

	limits := p.Limits
	if limits.MaxMemoryBytes > 0 && estimate.EstimatedMemoryBytes > limits.MaxMemoryBytes {
		add(RuleMemoryLimit, 0, fmt.Sprintf(
			"estimated memory %d bytes exceeds limit %d", estimate.EstimatedMemoryBytes, limits.MaxMemoryBytes))
	}
	if limits.MaxCPUSeconds > 0 && estimate.EstimatedCPUSeconds > limits.MaxCPUSeconds {
		add(RuleCPULimit, 0, fmt.Sprintf(
			"estimated cpu %.2fs exceeds limit %.2fs", estimate.EstimatedCPUSeconds, limits.MaxCPUSeconds))
	}
	if limits.MaxComplexity > 0 && estimate.ComplexityScore > limits.MaxComplexity {
		add(RuleComplexity, 0, fmt.Sprintf(
			"complexity score %d exceeds limit %d", estimate.ComplexityScore, limits.MaxComplexity))
	}
	if limits.MaxNestingDepth > 0 && estimate.MaxNestingDepth > limits.MaxNestingDepth {
		add(RuleNesting, 0, fmt.Sprintf(
			"nesting depth %d exceeds limit %d", estimate.MaxNestingDepth, limits.MaxNestingDepth))
	}
	if estimate.UsesRecursion && !p.AllowRecursion {
		add(RuleRecursion, 0, "recursion is not permitted by the active policy")
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ruleRank[out[i].RuleID] != ruleRank[out[j].RuleID] {
			return ruleRank[out[i].RuleID] < ruleRank[out[j].RuleID]
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func rootModule(name string) string {
	if i := strings.IndexAny(name, "./"); i >= 0 {
		return name[:i]
	}
	return name
}
