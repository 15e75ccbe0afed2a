// Package httpclient provides the outbound HTTP plumbing shared by provider
// adapters and artifact downloads.
package httpclient

import (
	"errors"
	"fmt"
)

// ErrResponseTooLarge is returned when a response body exceeds the client limit
var ErrResponseTooLarge = errors.New("response body exceeds maximum allowed size")

// HTTPError represents an HTTP error with status code and URL
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// IsClientError reports whether err is an HTTPError with a 4xx status other
// than 408 and 429, i.e. one that repeating the request will not fix.
func IsClientError(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case 408, 429:
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}
