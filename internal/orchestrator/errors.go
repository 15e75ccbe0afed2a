package orchestrator

import (
	"errors"
	"fmt"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

// Kind is the stable error classification exposed to API consumers.
type Kind string

const (
	// KindValidation is bad input, rejected before any external call
	KindValidation Kind = "validation_error"
	// KindProviderUnreachable is a transient provider failure
	KindProviderUnreachable Kind = "provider_unreachable"
	// KindProviderRejected is a provider refusal of the job
	KindProviderRejected Kind = "provider_rejected"
	// KindProviderAuth is a provider refusal of our credentials
	KindProviderAuth Kind = "provider_auth_error"
	// KindNotFound is a lookup miss
	KindNotFound Kind = "not_found"
	// KindInternal is any other failure, storage included
	KindInternal Kind = "internal_error"
)

const internalMessage = "internal error"

// Error is returned by every Service operation. Message is safe to show to
// callers; Err carries the detail for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Kind
	}
	return KindInternal
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("generation %s not found", id), Err: store.ErrNotFound}
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: internalMessage, Err: err}
}

// fromStore maps a store failure on a lookup of id.
func fromStore(id string, err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(id)
	case errors.Is(err, store.ErrInvalidCursor):
		return &Error{Kind: KindValidation, Message: "invalid cursor", Err: err}
	case errors.Is(err, store.ErrTooManyTags):
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("at most %d tags are allowed", generation.MaxTags), Err: err}
	default:
		return internal(err)
	}
}

// fromProvider maps a submit failure. Only the provider's own message is
// surfaced; transport detail stays in Err.
func fromProvider(err error) *Error {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		return &Error{Kind: KindProviderUnreachable, Message: "provider request failed", Err: err}
	}
	switch perr.Kind {
	case provider.KindRejected:
		return &Error{Kind: KindProviderRejected, Message: messageOr(perr.Message, "provider rejected the request"), Err: err}
	case provider.KindAuth:
		return &Error{Kind: KindProviderAuth, Message: fmt.Sprintf("provider %s refused the configured credentials", perr.Provider), Err: err}
	default:
		return &Error{Kind: KindProviderUnreachable, Message: fmt.Sprintf("provider %s is unavailable", perr.Provider), Err: err}
	}
}

func messageOr(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
