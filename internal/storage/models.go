package storage

import "time"

// Record is one audit entry: a single validation request, hit or miss.
type Record struct {
	ID             string    `json:"id" db:"id"`
	SubmissionHash string    `json:"submission_hash" db:"submission_hash"`
	Language       string    `json:"language" db:"language"`
	IsValid        bool      `json:"is_valid" db:"is_valid"`
	ViolationCount int       `json:"violation_count" db:"violation_count"`
	CacheHit       bool      `json:"cache_hit" db:"cache_hit"`
	PolicyID       string    `json:"policy_id" db:"policy_id"`
	PolicyVersion  int       `json:"policy_version" db:"policy_version"`
	DurationMS     int64     `json:"duration_ms" db:"duration_ms"`
	RequestIP      string    `json:"request_ip,omitempty" db:"request_ip"`
	APIKeyHash     string    `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// RecordFilter provides criteria for querying audit records.
type RecordFilter struct {
	Language string
	Valid    *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
