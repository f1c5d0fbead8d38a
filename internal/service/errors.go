package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

// ErrInvalidEmbedding marks a backend response that cannot be used, such as a
// vector of the wrong dimension. Retrying the same input will not help.
var ErrInvalidEmbedding = errors.New("invalid embedding response")

// BackendError is a non-2xx answer from an embedding backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *BackendError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// VectorizationError is returned when a track or text could not be embedded.
// Retryable separates transient backend trouble from invalid input or output.
type VectorizationError struct {
	TrackID   string
	Op        string
	Retryable bool
	Err       error
}

func (e *VectorizationError) Error() string {
	if e.TrackID != "" {
		return fmt.Sprintf("vectorization %s failed for track %s: %v", e.Op, e.TrackID, e.Err)
	}
	return fmt.Sprintf("vectorization %s failed: %v", e.Op, e.Err)
}

func (e *VectorizationError) Unwrap() error {
	return e.Err
}

func newVectorizationError(trackID, op string, err error) *VectorizationError {
	var verr *VectorizationError
	if errors.As(err, &verr) && verr.TrackID == trackID {
		return verr
	}
	return &VectorizationError{TrackID: trackID, Op: op, Retryable: isRetryable(err), Err: err}
}

// IsRetryable reports whether err is a VectorizationError a caller may retry.
func IsRetryable(err error) bool {
	var verr *VectorizationError
	return errors.As(err, &verr) && verr.Retryable
}

// isRetryable classifies raw backend errors. Unknown transport errors count as
// transient; invalid responses, client errors and cancellation do not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var verr *VectorizationError
	if errors.As(err, &verr) {
		return verr.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidEmbedding) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var berr *BackendError
	if errors.As(err, &berr) {
		return berr.Temporary()
	}
	return true
}
