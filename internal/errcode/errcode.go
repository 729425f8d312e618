package errcode

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Code 是领域错误的分类，决定 HTTP 状态码。
type Code string

const (
	CodeValidation   Code = "validation"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeNoCredits    Code = "no_credits"
	CodeInternal     Code = "internal"
)

// Error is the domain error returned by services.
// Message is safe to show to clients; Err carries the underlying cause for logs.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so callers can write errors.Is(err, errcode.ErrNoCredits).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{Code: CodeValidation}
	ErrUnauthorized = &Error{Code: CodeUnauthorized}
	ErrForbidden    = &Error{Code: CodeForbidden}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrConflict     = &Error{Code: CodeConflict}
	ErrNoCredits    = &Error{Code: CodeNoCredits}
	ErrInternal     = &Error{Code: CodeInternal}
)

func Validation(op, msg string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: msg}
}

func Unauthorized(op, msg string) *Error {
	return &Error{Code: CodeUnauthorized, Op: op, Message: msg}
}

func Forbidden(op, msg string) *Error {
	return &Error{Code: CodeForbidden, Op: op, Message: msg}
}

func NotFound(op, msg string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: msg}
}

func Conflict(op, msg string) *Error {
	return &Error{Code: CodeConflict, Op: op, Message: msg}
}

// NoCredits reports an exhausted daily quota with no banked credits left.
func NoCredits(op string) *Error {
	return &Error{Code: CodeNoCredits, Op: op, Message: "no credits available"}
}

func Internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Op: op, Message: "internal error", Err: err}
}

// FromDB converts gorm errors into domain errors. what names the missing entity.
func FromDB(op, what string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(op, what+" not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Code: CodeConflict, Op: op, Message: what + " already exists", Err: err}
	default:
		return Internal(op, err)
	}
}

// CodeOf extracts the Code of err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code written by handlers.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeNoCredits:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text; internal causes are never exposed.
func PublicMessage(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != CodeInternal && domainErr.Message != "" {
		return domainErr.Message
	}
	return "internal server error"
}
