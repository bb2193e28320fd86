package api

// ValidationRequest is the API-level request to validate tool code.
type ValidationRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"` // python, javascript, typescript
}

// RefResponse reports artifact reference bookkeeping after a ref change.
type RefResponse struct {
	SubmissionHash string `json:"submission_hash"`
	RefCount       int    `json:"ref_count"`
	UsageCount     int64  `json:"usage_count"`
}

// PolicyResponse describes the active policy without its full denylists.
type PolicyResponse struct {
	PolicyID       string `json:"policy_id"`
	Version        int    `json:"version"`
	AllowRecursion bool   `json:"allow_recursion"`
	RejectAbove    string `json:"reject_above"`
	DeniedModules  int    `json:"denied_modules"`
	DeniedFuncs    int    `json:"denied_functions"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Database      bool   `json:"database"`
	CacheBackend  string `json:"cache_backend"`
	PolicyID      string `json:"policy_id"`
	PolicyVersion int    `json:"policy_version"`
	Uptime        string `json:"uptime"`
}
