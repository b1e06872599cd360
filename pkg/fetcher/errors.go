package fetcher

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrTransport         = errors.New("airtable transport error")
	ErrMalformedResponse = errors.New("malformed airtable response")
)

// maxBodyInError caps how much of a response body is quoted in messages.
const maxBodyInError = 256

// TransportError reports a page request that did not yield a 2xx response.
// StatusCode is 0 when no response was received at all (network failure,
// exhausted retries or a cancelled context); Err then holds the cause.
type TransportError struct {
	StatusCode int
	URL        string
	Page       int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request for page %d of %s failed: %v", e.Page, e.URL, e.Err)
	}
	body := e.Body
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError] + "..."
	}
	if body == "" {
		return fmt.Sprintf("request for page %d of %s returned status %d", e.Page, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request for page %d of %s returned status %d: %s", e.Page, e.URL, e.StatusCode, body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// MalformedResponseError reports a 2xx page whose body is not a record list.
type MalformedResponseError struct {
	Page   int
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for page %d: %s", e.Page, e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedResponse.
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}
