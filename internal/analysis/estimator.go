package analysis

// ResourceEstimate is a static prediction of what executing the code would
// cost. Derived purely from structure; nothing is ever measured.
type ResourceEstimate struct {
	EstimatedMemoryBytes int64   `json:"estimated_memory_bytes"`
	EstimatedCPUSeconds  float64 `json:"estimated_cpu_seconds"`
	ComplexityScore      int     `json:"complexity_score"`
	MaxNestingDepth      int     `json:"max_nesting_depth"`
	UsesRecursion        bool    `json:"uses_recursion"`
	UsesUnboundedLoop    bool    `json:"uses_unbounded_loop"`
}

// Cost model constants. Memory and CPU saturate at their ceilings so
// downstream policy comparisons stay well-defined no matter how large the
// submission is.
const (
	baseMemoryBytes     = 64 << 20 // 64MiB interpreter baseline
	memoryPerUnit       = 2 << 20  // per complexity point
	maxMemoryBytes      = 512 << 20
	baseCPUSeconds      = 0.1
	cpuPerUnit          = 0.05
	loopCPUPenalty      = 0.5
	recursionCPUPenalty = 1.0
	maxCPUSeconds       = 30.0
	recursionComplexity = 5
)

// Estimate derives a ResourceEstimate from structural facts. Pure and
// deterministic: the complexity score is monotonic in branch count, loop
// count, and nesting depth.
func Estimate(facts StructuralFacts) ResourceEstimate {
	complexity := 1 + facts.Branches + 2*facts.Loops + facts.MaxNestingDepth
	if facts.UsesRecursion {
		complexity += recursionComplexity
	}

	memory := int64(baseMemoryBytes) + int64(complexity)*memoryPerUnit
	if memory > maxMemoryBytes {
		memory = maxMemoryBytes
	}

	cpu := baseCPUSeconds + float64(complexity)*cpuPerUnit
	if facts.Loops > 0 {
		cpu += loopCPUPenalty
	}
	if facts.UsesRecursion {
		cpu += recursionCPUPenalty
	}
	if cpu > maxCPUSeconds {
		cpu = maxCPUSeconds
	}

	return ResourceEstimate{
		EstimatedMemoryBytes: memory,
		EstimatedCPUSeconds:  cpu,
		ComplexityScore:      complexity,
		MaxNestingDepth:      facts.MaxNestingDepth,
		UsesRecursion:        facts.UsesRecursion,
		UsesUnboundedLoop:    facts.UsesUnboundedLoop,
	}
}
