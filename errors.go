package inferrecovery

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors. Pipeline code wraps these so classification does not depend
// on provider wording.
var (
	ErrRateLimited         = errors.New("inferrecovery: rate limited by provider")
	ErrQuotaExceeded       = errors.New("inferrecovery: quota exceeded")
	ErrAuthFailed          = errors.New("inferrecovery: authentication failed")
	ErrInvalidRequest      = errors.New("inferrecovery: invalid input")
	ErrProviderUnavailable = errors.New("inferrecovery: service unavailable")
	ErrModelUnavailable    = errors.New("inferrecovery: model unavailable")
	ErrContentFiltered     = errors.New("inferrecovery: content filtered")
	ErrUserLimit           = errors.New("inferrecovery: user limit reached")
	ErrTimeout             = errors.New("inferrecovery: request timeout")
	ErrStoreUnavailable    = errors.New("inferrecovery: store unavailable")
)

// ProviderError is a failure reported by an AI provider or a dependent service.
// Name is the provider's error category (e.g. "RateLimitError"), which the
// classifier inspects alongside the message.
type ProviderError struct {
	Name       string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.StatusCode, msg)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, msg)
	}
	return msg
}

// ErrorName returns the provider error category.
func (e *ProviderError) ErrorName() string {
	return e.Name
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var defaultTable = sync.OnceValue(DefaultPolicyTable)

// IsFatal returns true if the default policies escalate err on the first attempt.
func IsFatal(err error) bool {
	kind := Classify(err)
	p := defaultTable().Lookup(kind)
	return !IsRetryable(err) && !p.Fallback.Enabled
}

// IsRetryable returns true if the default policies retry err at least once.
func IsRetryable(err error) bool {
	kind := Classify(err)
	p := defaultTable().Lookup(kind)
	return p.Retry.MaxRetries > 0 && p.Retry.Retryable(kind)
}
