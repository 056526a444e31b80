package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// ErrAuth is fatal per upstream: bad credentials are surfaced to the
	// operator, never retried.
	ErrAuth = errors.New("upstream authentication failed")

	// ErrQuotaExceeded is a backpressure signal; callers should delay or
	// queue rather than treat it as a hard failure.
	ErrQuotaExceeded = errors.New("upstream quota exceeded")

	// ErrEmbedding marks a chunk whose vector could not be computed. The
	// chunk stays in the relational store for keyword search and audit.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStoreInconsistent is detected by the reconciliation pass when the
	// relational store and the vector index disagree about a chunk.
	ErrStoreInconsistent = errors.New("inconsistent store state")
)

// UpstreamError reports a failed upstream call together with whether
// retrying can help (network errors, 5xx, 429) or not (other 4xx).
type UpstreamError struct {
	Upstream   string
	Operation  string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Upstream, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Upstream, e.Operation, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRetryableUpstream reports whether err is an upstream failure worth
// retrying with backoff.
func IsRetryableUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retryable
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
