package validator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"agent-toolgate/internal/analysis"
	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
)

// Options tune the pipeline budgets.
type Options struct {
	// Budget is the wall-clock limit for one validation request, cache
	// traffic included.
	Budget time.Duration

	// AnalyzerBudget is the slice of the budget granted to the analyzer.
	AnalyzerBudget time.Duration

	// MaxCodeBytes rejects oversized submissions before hashing.
	MaxCodeBytes int
}

// DefaultOptions returns the production budgets.
func DefaultOptions() Options {
	return Options{
		Budget:         time.Second,
		AnalyzerBudget: 500 * time.Millisecond,
		MaxCodeBytes:   1 << 20,
	}
}

// Validator runs submissions through analysis and policy evaluation, served
// from the artifact cache whenever possible.
type Validator struct {
	registry *analysis.Registry
	policies policy.Source
	cache    *cache.Cache
	audit    storage.AuditSink
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	log      zerolog.Logger
	opts     Options
}

func New(
	registry *analysis.Registry,
	policies policy.Source,
	c *cache.Cache,
	audit storage.AuditSink,
	metrics *monitor.Metrics,
	tracer *monitor.Tracer,
	logger zerolog.Logger,
	opts Options,
) *Validator {
	if opts.Budget <= 0 {
		opts.Budget = DefaultOptions().Budget
	}
	if opts.AnalyzerBudget <= 0 || opts.AnalyzerBudget > opts.Budget {
		opts.AnalyzerBudget = opts.Budget / 2
	}
	if opts.MaxCodeBytes <= 0 {
		opts.MaxCodeBytes = DefaultOptions().MaxCodeBytes
	}
	return &Validator{
		registry: registry,
		policies: policies,
		cache:    c,
		audit:    audit,
		metrics:  metrics,
		tracer:   tracer,
		log:      logger.With().Str("component", "validator").Logger(),
		opts:     opts,
	}
}

// errAnalysisTimedOut is internal to the build path: it keeps a timed-out
// pipeline from writing a partial artifact.
var errAnalysisTimedOut = errors.New("analysis budget exceeded")

// Validate runs one submission through the pipeline. Request-level problems
// (unknown language, empty or oversized code) and store failures surface as
// errors; everything the policy decides about the code is data in the
// result, including syntax failures and timeouts.
func (v *Validator) Validate(ctx context.Context, code, language string) (*cache.ValidationResult, error) {
	start := time.Now()

	analyzer, err := v.registry.Get(language)
	if err != nil {
		return nil, &ValidationError{Op: "resolve analyzer", Err: fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)}
	}
	if len(code) == 0 {
		return nil, &ValidationError{Op: "accept submission", Err: ErrEmptySubmission}
	}
	if len(code) > v.opts.MaxCodeBytes {
		return nil, &ValidationError{
			Op:  "accept submission",
			Err: fmt.Errorf("%w: %d bytes (limit %d)", ErrCodeTooLarge, len(code), v.opts.MaxCodeBytes),
		}
	}

	key := cache.SubmissionKey(language, code)
	pol := v.policies.Current()

	ctx, cancel := context.WithTimeout(ctx, v.opts.Budget)
	defer cancel()

	ctx, span := v.tracer.StartSpan(ctx, "validate",
		monitor.AttrLanguage.String(language),
		monitor.AttrSubmissionHash.String(key),
		monitor.AttrPolicyVersion.Int(pol.Version),
	)
	defer span.End()

	v.metrics.ActiveValidations.Inc()
	defer v.metrics.ActiveValidations.Dec()
	v.metrics.CodeSizeBytes.Observe(float64(len(code)))

	art, outcome, err := v.cache.GetOrBuild(ctx, key, func(bctx context.Context) (*cache.CachedArtifact, error) {
		return v.build(bctx, analyzer, code, language, key, pol)
	})
	hit := outcome.Hit()
	if err == nil && outcome == cache.FetchCoalesced {
		v.metrics.CoalescedRequests.Inc()
	}

	var result *cache.ValidationResult
	switch {
	case err == nil && hit:
		result, err = v.serveHit(ctx, art, pol, key)
		if err != nil {
			break
		}
		v.metrics.CacheHits.Inc()

	case err == nil:
		v.metrics.CacheMisses.Inc()
		r := art.Result.Clone()
		result = &r

	case errors.Is(err, errAnalysisTimedOut):
		v.metrics.AnalysisTimeouts.Inc()
		v.metrics.RecordError("analysis_timeout")
		result = v.timeoutResult(key, language, pol)
		err = nil
	}
	if err != nil {
		v.metrics.RecordError("storage")
		return nil, &ValidationError{
			Op:   "cache",
			Hash: key,
			Err:  fmt.Errorf("%w: %w", ErrStorageUnavailable, err),
		}
	}

	result.CacheHit = hit
	result.DurationMS = time.Since(start).Milliseconds()
	span.SetAttributes(
		monitor.AttrCacheHit.Bool(hit),
		monitor.AttrViolationCount.Int(len(result.Violations)),
		monitor.AttrDurationMS.Int64(result.DurationMS),
	)

	v.finish(result, hit, start)
	return result, nil
}

// serveHit returns the cached result, re-evaluating it first when the
// active policy has moved past the version the artifact was validated under.
func (v *Validator) serveHit(ctx context.Context, art *cache.CachedArtifact, pol policy.SecurityPolicy, key string) (*cache.ValidationResult, error) {
	if art.Result.PolicyID == pol.PolicyID && art.Result.PolicyVersion == pol.Version {
		r := art.Result.Clone()
		return &r, nil
	}

	ctx, span := v.tracer.StartSpan(ctx, "reevaluate",
		monitor.AttrSubmissionHash.String(key),
		monitor.AttrPolicyVersion.Int(pol.Version),
	)
	defer span.End()
	v.metrics.StaleReevaluations.Inc()

	// The stored analysis is complete, so only the policy pass reruns.
	outcome := analysis.Outcome{
		SyntaxErrors: art.Result.Errors,
		Issues:       art.Result.Issues,
		Facts:        art.Result.Facts,
		Warnings:     art.Result.Warnings,
		BestEffort:   art.Result.BestEffort,
	}
	violations := policy.Evaluate(outcome, art.Result.Estimate, pol)

	result := art.Result.Clone()
	result.Violations = violations
	result.IsValid = len(result.Errors) == 0 && !pol.ShouldReject(violations)
	result.PolicyID = pol.PolicyID
	result.PolicyVersion = pol.Version
	result.ValidatedAt = time.Now().UTC()

	if _, err := v.cache.ReplaceResult(ctx, key, result, deriveExecution(result)); err != nil {
		return nil, err
	}

	v.log.Info().
		Str("hash", key).
		Str("policy_id", pol.PolicyID).
		Int("policy_version", pol.Version).
		Bool("is_valid", result.IsValid).
		Msg("artifact re-evaluated under new policy")

	return &result, nil
}

// build runs the full pipeline for a cache miss.
func (v *Validator) build(ctx context.Context, analyzer analysis.Analyzer, code, language, key string, pol policy.SecurityPolicy) (*cache.CachedArtifact, error) {
	ctx, span := v.tracer.StartSpan(ctx, "pipeline",
		monitor.AttrLanguage.String(language),
		monitor.AttrSubmissionHash.String(key),
	)
	defer span.End()

	outcome, err := v.analyze(ctx, analyzer, code)
	if err != nil {
		return nil, err
	}

	estimate := analysis.Estimate(outcome.Facts)
	violations := policy.Evaluate(outcome, estimate, pol)

	result := cache.ValidationResult{
		IsValid:        len(outcome.SyntaxErrors) == 0 && !pol.ShouldReject(violations),
		Errors:         outcome.SyntaxErrors,
		Violations:     violations,
		Warnings:       outcome.Warnings,
		Issues:         outcome.Issues,
		Facts:          outcome.Facts,
		Estimate:       estimate,
		BestEffort:     outcome.BestEffort,
		SubmissionHash: key,
		Language:       language,
		PolicyID:       pol.PolicyID,
		PolicyVersion:  pol.Version,
		ValidatedAt:    time.Now().UTC(),
	}

	return &cache.CachedArtifact{
		SubmissionHash: key,
		Language:       language,
		ValidatedCode:  code,
		Result:         result,
		Dependencies:   dependencies(outcome.Facts),
		Execution:      deriveExecution(result),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// analyze runs the analyzer under its own budget. The analyzer is pure CPU
// work without cancellation points in every phase, so it runs in a goroutine
// and the deadline is enforced here.
func (v *Validator) analyze(ctx context.Context, analyzer analysis.Analyzer, code string) (analysis.Outcome, error) {
	actx, cancel := context.WithTimeout(ctx, v.opts.AnalyzerBudget)
	defer cancel()

	done := make(chan analysis.Outcome, 1)
	go func() {
		done <- analyzer.Analyze(actx, code)
	}()

	select {
	case outcome := <-done:
		return outcome, nil
	case <-actx.Done():
		return analysis.Outcome{}, errAnalysisTimedOut
	}
}

func (v *Validator) timeoutResult(key, language string, pol policy.SecurityPolicy) *cache.ValidationResult {
	return &cache.ValidationResult{
		IsValid: false,
		Errors: []string{
			fmt.Sprintf("%s after %dms", ErrAnalysisTimeout, v.opts.AnalyzerBudget.Milliseconds()),
		},
		SubmissionHash: key,
		Language:       language,
		PolicyID:       pol.PolicyID,
		PolicyVersion:  pol.Version,
		ValidatedAt:    time.Now().UTC(),
	}
}

// finish emits the audit record, metrics, and log line for one request.
func (v *Validator) finish(result *cache.ValidationResult, hit bool, start time.Time) {
	outcome := "invalid"
	if result.IsValid {
		outcome = "valid"
	}
	v.metrics.RecordValidation(result.Language, outcome, time.Since(start).Seconds())

	rules := make([]string, 0, len(result.Violations))
	for _, viol := range result.Violations {
		rules = append(rules, viol.RuleID)
	}
	v.metrics.RecordViolations(rules)

	v.audit.Log(&storage.Record{
		SubmissionHash: result.SubmissionHash,
		Language:       result.Language,
		IsValid:        result.IsValid,
		ViolationCount: len(result.Violations),
		CacheHit:       hit,
		PolicyID:       result.PolicyID,
		PolicyVersion:  result.PolicyVersion,
		DurationMS:     result.DurationMS,
		CreatedAt:      time.Now().UTC(),
	})

	v.log.Info().
		Str("hash", result.SubmissionHash).
		Str("language", result.Language).
		Bool("is_valid", result.IsValid).
		Bool("cache_hit", hit).
		Int("violations", len(result.Violations)).
		Int64("duration_ms", result.DurationMS).
		Msg("validation completed")
}

func dependencies(facts analysis.StructuralFacts) []string {
	seen := make(map[string]struct{}, len(facts.Imports))
	var deps []string
	for _, imp := range facts.Imports {
		if _, ok := seen[imp.Name]; ok {
			continue
		}
		seen[imp.Name] = struct{}{}
		deps = append(deps, imp.Name)
	}
	sort.Strings(deps)
	return deps
}

// deriveExecution produces the sandbox hand-off payload from the estimate
// and findings. The timeout doubles the CPU estimate to leave headroom for
// interpreter startup.
func deriveExecution(result cache.ValidationResult) cache.ExecutionMetadata {
	est := result.Estimate

	timeoutSec := int(math.Ceil(est.EstimatedCPUSeconds * 2))
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	if timeoutSec > 60 {
		timeoutSec = 60
	}

	var network, filesystem bool
	for _, issue := range result.Issues {
		switch issue.Category {
		case analysis.CategoryNetworkAccess:
			network = true
		case analysis.CategoryFilesystem:
			filesystem = true
		}
	}

	return cache.ExecutionMetadata{
		EstimatedMemoryMB:  est.EstimatedMemoryBytes >> 20,
		EstimatedCPUMS:     int64(est.EstimatedCPUSeconds * 1000),
		TimeoutSeconds:     timeoutSec,
		RequiresNetwork:    network,
		RequiresFilesystem: filesystem,
	}
}
