package models

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a cluster, video, or task id is unknown
	// or the record expired from the store.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidState is returned when an operation is not legal from the
	// cluster's current status.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrInsufficientContent is returned when synthesis is attempted with no
	// usable transcripts.
	ErrInsufficientContent = errors.New("no usable transcripts for synthesis")

	// ErrCostLimitExceeded is returned when the estimated LLM spend is over
	// the configured ceiling.
	ErrCostLimitExceeded = errors.New("estimated cost exceeds configured limit")

	// ErrRateLimited is returned when an upstream service throttles us.
	ErrRateLimited = errors.New("rate limited by upstream service")

	// ErrTranscriptUnavailable is returned when a video has no transcript.
	ErrTranscriptUnavailable = errors.New("transcript not available for this video")
)

// UpstreamError wraps a transcript-fetch or LLM-provider failure and carries
// the underlying cause.
type UpstreamError struct {
	Service string // "youtube", "openai", "anthropic", "ollama"
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err as an upstream failure of the named service.
func NewUpstreamError(service string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Service: service, Err: err}
}

// StorageError wraps key-value store or durable-output failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a storage failure for the given operation.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
