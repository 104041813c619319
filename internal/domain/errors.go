package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrClaimLost is returned when a conditional claim matched no row:
	// another scanner won the race or the job left PENDING. Not a failure;
	// the losing scanner skips the job silently.
	ErrClaimLost = errors.New("claim lost: job no longer claimable")

	// ErrStaleTransition is returned when a conditional status update
	// matched no row because the job is not in the expected source status
	ErrStaleTransition = errors.New("stale transition: job not in expected status")

	// ErrRetriesExhausted is returned when a re-arm is refused because the
	// job already reached its retry ceiling
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrDuplicateAttempt is returned when an attempt record already exists
	// for the (job, platform, attempt) key: a redelivered request event
	ErrDuplicateAttempt = errors.New("duplicate publish attempt")
)

// Error codes carried on publish.failed events and attempt records
const (
	ErrCodeTimeout          = "PLATFORM_TIMEOUT"
	ErrCodeRateLimited      = "PLATFORM_RATE_LIMITED"
	ErrCodeUnavailable      = "PLATFORM_UNAVAILABLE"
	ErrCodeAssetFetch       = "ASSET_FETCH_FAILED"
	ErrCodeBadCredentials   = "CREDENTIALS_INVALID"
	ErrCodePolicyRejected   = "CONTENT_POLICY_REJECTED"
	ErrCodeMalformedRequest = "MALFORMED_REQUEST"
	ErrCodeInternal         = "INTERNAL"
)

// PublishError classifies a failed platform call as transient (retryable
// with backoff) or permanent (terminal, no amount of retry helps).
type PublishError struct {
	Code      string
	Transient bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps a retryable platform failure
func NewTransientError(code string, err error) error {
	return &PublishError{Code: code, Transient: true, Err: err}
}

// NewPermanentError wraps a terminal platform failure
func NewPermanentError(code string, err error) error {
	return &PublishError{Code: code, Transient: false, Err: err}
}

// IsTransient reports whether err should feed the retry path. Errors that
// carry no classification (network-level failures, context deadlines) are
// treated as transient: retrying an unknown failure is safe because the
// executor dedupes attempts, while dropping a recoverable one is not.
func IsTransient(err error) bool {
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return pubErr.Transient
	}
	return true
}

// ErrorCode extracts the classified code from err, or INTERNAL if the
// error carries none
func ErrorCode(err error) string {
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return pubErr.Code
	}
	return ErrCodeInternal
}
