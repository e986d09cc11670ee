// Package chaterrors defines the error taxonomy a chat-socket request can
// fail with (spec.md §7), grounded on the sentinel-plus-wrapped-cause
// pattern in sonirico/libws's errors.go.
package chaterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCancelled is returned only by AwaitOpen when the caller's context is
// cancelled before the socket reaches Open.
var ErrCancelled = errors.New("chatsocket: await open cancelled")

// InvalidAppStateError covers "app expired" and "app not ready."
type InvalidAppStateError struct {
	URL string
}

func (e *InvalidAppStateError) Error() string {
	return fmt.Sprintf("invalid app state for request to %s", e.URL)
}

// InvalidRequestError covers malformed URLs, missing HTTP methods, JSON
// encoding failures, and transport-build failures discovered at submit
// time.
type InvalidRequestError struct {
	URL string
	err error
}

func (e *InvalidRequestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("invalid request to %s: %s", e.URL, e.err)
	}
	return fmt.Sprintf("invalid request to %s", e.URL)
}

func (e *InvalidRequestError) Unwrap() error { return e.err }

// NewInvalidRequest wraps cause with request-URL context.
func NewInvalidRequest(url string, cause error) *InvalidRequestError {
	return &InvalidRequestError{URL: url, err: errors.Wrap(cause, "invalid request")}
}

// NetworkFailureError covers "no open socket", "socket closed mid-flight"
// and "request timed out."
type NetworkFailureError struct {
	URL string
	err error
}

func (e *NetworkFailureError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("network failure for %s: %s", e.URL, e.err)
	}
	return fmt.Sprintf("network failure for %s", e.URL)
}

func (e *NetworkFailureError) Unwrap() error { return e.err }

// NewNetworkFailure wraps cause with request-URL context.
func NewNetworkFailure(url string, cause error) *NetworkFailureError {
	return &NetworkFailureError{URL: url, err: errors.Wrap(cause, "network failure")}
}

// HttpError is a non-2xx response from the server, preprocessed for
// common cases like 429 Retry-After (spec.md §7).
type HttpError struct {
	Status     int
	Headers    map[string]string
	Body       []byte
	URL        string
	RetryAfter string // raw Retry-After header value, if present
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("http error %d for %s", e.Status, e.URL)
}

// NewHttpError classifies a server response, extracting Retry-After when
// the status is 429 (spec.md §7's example of "preprocessed").
func NewHttpError(status int, headers map[string]string, body []byte, url string) *HttpError {
	e := &HttpError{Status: status, Headers: headers, Body: body, URL: url}
	if status == 429 {
		for k, v := range headers {
			if equalFoldASCII(k, "Retry-After") {
				e.RetryAfter = v
				break
			}
		}
	}
	return e
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
