// Package validator orchestrates the validation pipeline: key derivation,
// cache lookup, analysis, policy evaluation, write-through, and audit.
package validator

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrEmptySubmission     = errors.New("empty submission")
	ErrCodeTooLarge        = errors.New("submission exceeds size limit")
	ErrStorageUnavailable  = errors.New("artifact storage unavailable")
	ErrAnalysisTimeout     = errors.New("analysis timed out")
)

// ValidationError wraps errors with pipeline context.
type ValidationError struct {
	Op   string // The pipeline stage that failed
	Hash string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("validate %s: %s: %s", e.Hash, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsStorageUnavailable returns true if the error is a store failure.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsBadRequest returns true for errors caused by the submission itself
// rather than the engine.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrEmptySubmission) ||
		errors.Is(err, ErrCodeTooLarge)
}
