package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"
)

type Kind string

const (
	KindInternal          Kind = "internal"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindForbidden         Kind = "forbidden"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindProvider          Kind = "provider_error"
	KindUpload            Kind = "upload_error"
)

// Error is the domain error returned by services. Handlers translate Kind
// into an HTTP status; background jobs only log it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryAt is set on rate limit errors.
	RetryAt time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrRateLimitExceeded = &Error{Kind: KindRateLimitExceeded}
	ErrProvider          = &Error{Kind: KindProvider}
	ErrUpload            = &Error{Kind: KindUpload}
)

func NotFound(msg string) error   { return &Error{Kind: KindNotFound, Message: msg} }
func Validation(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func Forbidden(msg string) error  { return &Error{Kind: KindForbidden, Message: msg} }

func RateLimited(msg string, retryAt time.Time) error {
	return &Error{Kind: KindRateLimitExceeded, Message: msg, RetryAt: retryAt}
}

func Provider(msg string, cause error) error {
	return &Error{Kind: KindProvider, Message: msg, Cause: cause}
}

func Upload(msg string, cause error) error {
	return &Error{Kind: KindUpload, Message: msg, Cause: cause}
}

// NotFoundIfMissing maps gorm.ErrRecordNotFound to a NotFound error and
// passes everything else through.
func NotFoundIfMissing(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: KindNotFound, Message: msg, Cause: err}
	}
	return err
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status and numeric code used in the
// response envelope.
func HTTPStatus(err error) (status int, code int) {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound, 40400
	case KindValidation:
		return http.StatusBadRequest, 10001
	case KindForbidden:
		return http.StatusForbidden, 40300
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests, 42900
	case KindProvider:
		return http.StatusBadGateway, 50200
	case KindUpload:
		return http.StatusBadGateway, 50201
	default:
		return http.StatusInternalServerError, 50000
	}
}

// PublicMessage is the message safe to show to API clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not found"
	}
	return "internal error"
}
