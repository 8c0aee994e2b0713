package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an activity, mapping, assessment, attempt, record or certificate
	// is absent or no longer active.
	ErrNotFound = errors.New("not found")
	// ErrMalformedSubmission indicates an attempt whose answers do not line up with the assessment.
	ErrMalformedSubmission = errors.New("malformed submission")
	// ErrAttemptsExhausted is returned once a learner has used every permitted attempt.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrAllocationExceedsRecord is returned when proposed allocations sum to more than the record's hours.
	ErrAllocationExceedsRecord = errors.New("allocation exceeds credit record hours")
	// ErrAmbiguousMapping rejects credit mappings that declare both a state allow-list and a deny-list.
	ErrAmbiguousMapping = errors.New("credit mapping declares both allowed and excluded states")
	// ErrCodeGenerationExhausted is returned when no unique certificate code could be produced.
	ErrCodeGenerationExhausted = errors.New("certificate code generation exhausted")
	// ErrUnauthorized indicates the caller does not own the referenced records.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation wraps field-level problems in a request.
	ErrValidation = errors.New("validation failed")
	// ErrVersionConflict is returned when an activity was edited concurrently.
	ErrVersionConflict = errors.New("activity version conflict")

	// ErrCodeCollision is reported by repositories when a certificate code already exists.
	ErrCodeCollision = errors.New("certificate code collision")
	// ErrTransient is reported by repositories for serialization failures and deadlocks that may succeed on retry.
	ErrTransient = errors.New("transient storage failure")
)

// AttemptsExhaustedError carries the ceiling details back to the learner.
type AttemptsExhaustedError struct {
	Used int
	Max  int
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d of %d attempts used", ErrAttemptsExhausted, e.Used, e.Max)
}

// Is lets errors.Is match the sentinel.
func (e *AttemptsExhaustedError) Is(target error) bool { return target == ErrAttemptsExhausted }

// AllocationExceedsRecordError reports how far over the record total a proposal went.
type AllocationExceedsRecordError struct {
	Requested float64
	Available float64
}

func (e *AllocationExceedsRecordError) Error() string {
	return fmt.Sprintf("%s: requested %.2f, record holds %.2f", ErrAllocationExceedsRecord, e.Requested, e.Available)
}

func (e *AllocationExceedsRecordError) Is(target error) bool { return target == ErrAllocationExceedsRecord }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func fmtMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSubmission, fmt.Sprintf(format, args...))
}
