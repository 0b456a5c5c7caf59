package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStorageIntegrity marks a write that could not be committed atomically.
// It aborts the current job but never the process.
var ErrStorageIntegrity = errors.New("storage integrity violation")

// FetchErrorKind splits fetch failures into the retry taxonomy.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchPermanent FetchErrorKind = "permanent"
)

// FetchError wraps a page or asset fetch failure with its retry class.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch error for %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransientFetchError builds a retryable fetch failure.
func TransientFetchError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchTransient, URL: url, StatusCode: status, Err: err}
}

// PermanentFetchError builds a fetch failure that must not be retried.
func PermanentFetchError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchPermanent, URL: url, StatusCode: status, Err: err}
}

// IsTransientFetch reports whether err is a retryable fetch failure.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

// IsPermanentFetch reports whether err is a non-retryable fetch failure.
func IsPermanentFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchPermanent
}

// ClassifyStatus maps an HTTP status code to the retry taxonomy. 429 and all
// 5xx responses are transient; every other non-2xx is permanent.
func ClassifyStatus(code int) FetchErrorKind {
	if code == 429 || (code >= 500 && code < 600) {
		return FetchTransient
	}
	return FetchPermanent
}
