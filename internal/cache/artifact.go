// Package cache provides the content-addressed artifact cache: key
// derivation, the durable Store boundary, and the coalescing layer that
// guarantees one validation pipeline run per key.
package cache

import (
	"time"

	"agent-toolgate/internal/analysis"
	"agent-toolgate/internal/policy"
)

// ValidationResult is the full-fidelity outcome of validating one
// submission. It retains the analysis facts and issues so a policy change
// can be re-evaluated from the stored artifact without re-parsing.
type ValidationResult struct {
	IsValid    bool                      `json:"is_valid"`
	Errors     []string                  `json:"errors,omitempty"`
	Violations []policy.Violation        `json:"violations,omitempty"`
	Warnings   []string                  `json:"warnings,omitempty"`
	Issues     []analysis.SecurityIssue  `json:"issues,omitempty"`
	Facts      analysis.StructuralFacts  `json:"facts"`
	Estimate   analysis.ResourceEstimate `json:"estimate"`
	BestEffort bool                      `json:"best_effort,omitempty"`

	SubmissionHash string `json:"submission_hash"`
	Language       string `json:"language"`
	PolicyID       string `json:"policy_id"`
	PolicyVersion  int    `json:"policy_version"`

	// CacheHit is per-request state: false in the stored artifact, set on
	// the copy returned to the caller.
	CacheHit    bool      `json:"cache_hit"`
	DurationMS  int64     `json:"duration_ms"`
	ValidatedAt time.Time `json:"validated_at"`
}

// ExecutionMetadata is the hand-off payload for the execution sandbox,
// derived from the static estimate.
type ExecutionMetadata struct {
	EstimatedMemoryMB  int64 `json:"estimated_memory_mb"`
	EstimatedCPUMS     int64 `json:"estimated_cpu_ms"`
	TimeoutSeconds     int   `json:"timeout_seconds"`
	RequiresNetwork    bool  `json:"requires_network"`
	RequiresFilesystem bool  `json:"requires_filesystem"`
}

// CachedArtifact is one validated submission and its bookkeeping.
type CachedArtifact struct {
	SubmissionHash string            `json:"submission_hash"`
	Language       string            `json:"language"`
	ValidatedCode  string            `json:"validated_code"`
	Result         ValidationResult  `json:"result"`
	Dependencies   []string          `json:"dependencies,omitempty"`
	Execution      ExecutionMetadata `json:"execution"`

	// RefCount tracks registered tools referencing this artifact; deletion
	// is refused while it is positive. UsageCount counts logical validation
	// requests served by this artifact.
	RefCount   int       `json:"ref_count"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate their view without
// aliasing store-owned state.
func (a *CachedArtifact) Clone() *CachedArtifact {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Dependencies = append([]string(nil), a.Dependencies...)
	cp.Result = a.Result.Clone()
	return &cp
}

// Clone deep-copies the slices held by the result.
func (r ValidationResult) Clone() ValidationResult {
	cp := r
	cp.Errors = append([]string(nil), r.Errors...)
	cp.Violations = append([]policy.Violation(nil), r.Violations...)
	cp.Warnings = append([]string(nil), r.Warnings...)
	cp.Issues = append([]analysis.SecurityIssue(nil), r.Issues...)
	cp.Facts.Imports = append([]analysis.Ref(nil), r.Facts.Imports...)
	cp.Facts.Calls = append([]analysis.Ref(nil), r.Facts.Calls...)
	cp.Facts.Functions = append([]string(nil), r.Facts.Functions...)
	return cp
}
