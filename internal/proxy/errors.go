package proxy

import (
	"fmt"
	"net/http"
)

// Kind classifies a proxy failure.
type Kind int

const (
	KindForbidden Kind = iota + 1
	KindNotFound
	KindDisabled
	KindMissingCredential
	KindUpstreamError
	KindTimeout
	KindUpstreamUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindDisabled:
		return "disabled"
	case KindMissingCredential:
		return "missing_credential"
	case KindUpstreamError:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrForbidden           = &Error{Kind: KindForbidden, Status: http.StatusForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound, Status: http.StatusNotFound}
	ErrDisabled            = &Error{Kind: KindDisabled, Status: http.StatusBadRequest}
	ErrMissingCredential   = &Error{Kind: KindMissingCredential, Status: http.StatusBadRequest}
	ErrUpstream            = &Error{Kind: KindUpstreamError, Status: http.StatusBadGateway}
	ErrTimeout             = &Error{Kind: KindTimeout, Status: http.StatusGatewayTimeout}
	ErrUpstreamUnreachable = &Error{Kind: KindUpstreamUnreachable, Status: http.StatusBadGateway}
)

// Error is returned by every failed proxy call. Status is the HTTP status the
// caller should see and Message its detail text.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Dispatched reports whether the failure happened after the request left the gateway.
func (e *Error) Dispatched() bool {
	switch e.Kind {
	case KindUpstreamError, KindTimeout, KindUpstreamUnreachable:
		return true
	}
	return false
}

func forbidden() *Error {
	return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: "Not authenticated"}
}

func notFound(modelID string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf("Model '%s' not found", modelID)}
}

func disabled(modelID string) *Error {
	return &Error{Kind: KindDisabled, Status: http.StatusBadRequest, Message: fmt.Sprintf("Model '%s' is disabled", modelID)}
}

func missingCredential(name string) *Error {
	return &Error{
		Kind:    KindMissingCredential,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("API Key not configured for model '%s'", name),
	}
}

func upstreamError(status int, message string) *Error {
	return &Error{Kind: KindUpstreamError, Status: status, Message: message}
}

func timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Status: http.StatusGatewayTimeout, Message: "Request to AI API timed out", Err: err}
}

func unreachable(err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnreachable,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("Failed to connect to AI API: %v", err),
		Err:     err,
	}
}
