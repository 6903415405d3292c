package apiclient

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for UI consumers.
type Kind string

const (
	KindValidation       Kind = "validation_failed"
	KindNotAuthenticated Kind = "not_authenticated"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindServer           Kind = "server_error"
	KindNetwork          Kind = "network_unreachable"
	KindCanceled         Kind = "canceled"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrServer           = errors.New("server error")
	ErrNetwork          = errors.New("network unreachable")
	ErrCanceled         = errors.New("request canceled")
)

const defaultFailureMessage = "request failed"

// Error is the typed failure returned by the client and recorded by the stores.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultFailureMessage
}

func (e *Error) Unwrap() []error {
	errs := []error{sentinelFor(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds an error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation builds a client-side validation failure.
func Validation(msg string) *Error {
	return NewError(KindValidation, msg)
}

// KindOf reports the kind of err, or "" when err is not typed.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsCanceled reports whether err stems from caller cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindNotAuthenticated:
		return ErrNotAuthenticated
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindNetwork:
		return ErrNetwork
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrServer
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized:
		return KindNotAuthenticated
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindServer
	}
}
