package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindNotAuthorized    Kind = "NOT_AUTHORIZED"
	KindValidation       Kind = "VALIDATION_FAILED"
	KindVersionConflict  Kind = "VERSION_CONFLICT"
	KindAlreadyExists    Kind = "ALREADY_EXISTS"
	KindGenerationFailed Kind = "GENERATION_FAILED"
	KindTransient        Kind = "TRANSIENT"
)

// Error is the single error type repositories return. Code is a stable,
// more specific identifier than Kind (for example ROLE_SECTION_NOT_FOUND).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so errors.Is(err, domain.ErrNotFound) works
// regardless of Code or Message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == "" && other.Kind == e.Kind
}

func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindVersionConflict, KindAlreadyExists:
		return http.StatusConflict
	case KindGenerationFailed:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Kind-only sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrNotAuthorized    = &Error{Kind: KindNotAuthorized}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrVersionConflict  = &Error{Kind: KindVersionConflict}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrGenerationFailed = &Error{Kind: KindGenerationFailed}
	ErrTransient        = &Error{Kind: KindTransient}
)

func newError(kind Kind, code, message string, details any, cause error) *Error {
	if code == "" {
		code = string(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message, Details: details, Err: cause}
}

func NotFound(code, message string) error {
	return newError(KindNotFound, code, message, nil, nil)
}

func NotAuthorized(code, message string) error {
	return newError(KindNotAuthorized, code, message, nil, nil)
}

func Validation(code, message string, details any) error {
	return newError(KindValidation, code, message, details, nil)
}

func VersionConflict(message string, cause error) error {
	return newError(KindVersionConflict, "VERSION_CONFLICT", message, nil, cause)
}

func AlreadyExists(code, message string) error {
	return newError(KindAlreadyExists, code, message, nil, nil)
}

func GenerationFailed(message string, cause error) error {
	return newError(KindGenerationFailed, "GENERATION_FAILED", message, nil, cause)
}

func Transient(message string, cause error) error {
	return newError(KindTransient, "TRANSIENT", message, nil, cause)
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// Retryable reports whether err is safe to retry. A GenerationFailed error is
// retryable only when its cause is Transient.
func Retryable(err error) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case KindTransient:
			return true
		case KindGenerationFailed:
			err = domainErr.Err
			if err == nil {
				return false
			}
			continue
		default:
			return false
		}
	}
	return false
}
