package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownEndpoint is returned when no configured provider serves an endpoint
var ErrUnknownEndpoint = errors.New("no provider serves the endpoint")

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// KindUnreachable covers transport failures and provider side outages. Retryable.
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected means the provider refused the request. Terminal.
	KindRejected ErrorKind = "rejected"
	// KindAuth means the provider refused our credentials. Terminal.
	KindAuth ErrorKind = "auth"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unreachable wraps a transport failure.
func Unreachable(providerName string, err error) *Error {
	return &Error{Kind: KindUnreachable, Provider: providerName, Err: err}
}

// Rejected builds a rejection with the provider's message.
func Rejected(providerName, message string) *Error {
	return &Error{Kind: KindRejected, Provider: providerName, Message: message}
}

// ClassifyHTTPStatus maps an unsuccessful provider response onto an Error.
func ClassifyHTTPStatus(providerName string, status int, message string) *Error {
	kind := KindRejected
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		kind = KindUnreachable
	}
	return &Error{Kind: kind, Provider: providerName, StatusCode: status, Message: message}
}

// KindOf returns the kind of a provider error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnreachable
}
