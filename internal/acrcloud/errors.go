package acrcloud

import (
	"fmt"
	"net/http"

	"github.com/tphakala/beatguard/internal/errors"
)

// Provider failure kinds. Every error returned by Client matches exactly one
// of these with errors.Is, except context cancellation which is returned as is.
var (
	// ErrProviderUnavailable covers network failures, timeouts, 5xx responses
	// and unreadable envelopes. Retryable.
	ErrProviderUnavailable = errors.NewStd("fingerprint provider unavailable")
	// ErrRateLimited means the provider throttled the account. Retryable with backoff.
	ErrRateLimited = errors.NewStd("fingerprint provider rate limit exceeded")
	// ErrInvalidFingerprint means the fingerprint id is unknown or malformed,
	// or the uploaded audio could not be fingerprinted. Terminal.
	ErrInvalidFingerprint = errors.NewStd("invalid fingerprint")
	// ErrProviderRejected is any other non-zero provider status code. Terminal.
	ErrProviderRejected = errors.NewStd("fingerprint provider rejected the request")
)

// Provider status codes with a specific meaning. Any other non-zero code is
// a rejection.
const (
	codeSuccess             = 0
	codeInvalidAudio        = 2004 // audio could not be fingerprinted
	codeFingerprintNotFound = 2005 // unknown fingerprint id in bucket
	codeLimitExceeded       = 3003 // daily or monthly request quota
	codeQPSLimitExceeded    = 3015 // requests per second
)

// classifyCode maps a non-zero envelope status code to a failure kind.
func classifyCode(code int) error {
	switch code {
	case codeLimitExceeded, codeQPSLimitExceeded:
		return ErrRateLimited
	case codeInvalidAudio, codeFingerprintNotFound:
		return ErrInvalidFingerprint
	default:
		return ErrProviderRejected
	}
}

// classifyHTTPStatus maps transport-level status codes that override the
// envelope. It returns nil when the envelope decides.
func classifyHTTPStatus(op string, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= http.StatusInternalServerError:
		return ErrProviderUnavailable
	case status == http.StatusNotFound && op != opRegister:
		return ErrInvalidFingerprint
	default:
		return nil
	}
}

// ProviderError describes one failed provider call.
type ProviderError struct {
	Op         string // provider operation, e.g. "query_detections"
	Code       int    // envelope status code, 0 if none was received
	Message    string // provider-reported message
	HTTPStatus int    // 0 if no response was received
	Kind       error  // one of the Err* kinds above
	Err        error  // underlying transport error, if any
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("acrcloud %s: %v: %s (code %d)", e.Op, e.Kind, msg, e.Code)
	}
	if msg == "" {
		return fmt.Sprintf("acrcloud %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("acrcloud %s: %v: %s", e.Op, e.Kind, msg)
}

// Unwrap exposes the failure kind and the transport error to errors.Is/As.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorCategory implements errors.CategorizedError.
func (e *ProviderError) ErrorCategory() errors.ErrorCategory {
	switch e.Kind {
	case ErrRateLimited:
		return errors.CategoryRateLimited
	case ErrInvalidFingerprint:
		return errors.CategoryInvalidFingerprint
	case ErrProviderUnavailable:
		return errors.CategoryProviderUnavailable
	default:
		return errors.CategoryProviderRejected
	}
}

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrRateLimited || e.Kind == ErrProviderUnavailable
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}
