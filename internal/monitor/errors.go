package monitor

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the monitoring pipeline.
var (
	// ErrTransportFailure covers network errors and timeouts while fetching.
	ErrTransportFailure = errors.New("transport failure")
	// ErrProviderTransient means the provider is still preparing the content.
	ErrProviderTransient = errors.New("provider content not ready")
	// ErrProviderPermanent covers invalid identifiers, auth failures and bad payloads.
	ErrProviderPermanent = errors.New("provider permanent failure")
	// ErrClassificationFailure is absorbed by the classifier fallback.
	ErrClassificationFailure = errors.New("classification failure")
	// ErrNotificationFailure is recorded on the run, never escalated.
	ErrNotificationFailure = errors.New("notification failure")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by job queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError decorates a fetch failure with its taxonomy kind.
type FetchError struct {
	Kind       error
	Strategy   string
	RetryAfter time.Duration
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	switch {
	case e.Strategy != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Strategy, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewTransportError wraps err as a TransportFailure.
func NewTransportError(strategy string, err error) error {
	return &FetchError{Kind: ErrTransportFailure, Strategy: strategy, Err: err}
}

// NewTransientError wraps err as a ProviderTransient with a retry hint.
func NewTransientError(err error, retryAfter time.Duration) error {
	return &FetchError{Kind: ErrProviderTransient, RetryAfter: retryAfter, Err: err}
}

// NewPermanentError wraps err as a ProviderPermanent.
func NewPermanentError(err error) error {
	return &FetchError{Kind: ErrProviderPermanent, Err: err}
}

// IsTransient reports whether err is a ProviderTransient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

// RetryHint returns the retry delay carried by a transient error, or zero.
func RetryHint(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == ErrProviderTransient {
		return fe.RetryAfter
	}
	return 0
}
