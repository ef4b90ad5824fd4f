package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidEvent       Code = "INVALID_EVENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeRenderFailure      Code = "RENDER_FAILURE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrInvalidEvent       = New(CodeInvalidEvent, "invalid notification event")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrStorageUnavailable = New(CodeStorageUnavailable, "storage unavailable")
	ErrRenderFailure      = New(CodeRenderFailure, "document render failed")
)

var statusByCode = map[Code]int{
	CodeInvalidEvent:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeStorageUnavailable: http.StatusServiceUnavailable,
	CodeRenderFailure:      http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
}

type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func InvalidEvent(format string, args ...any) *Error {
	return New(CodeInvalidEvent, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

func StorageUnavailable(err error, message string) *Error {
	return Wrap(CodeStorageUnavailable, err, message)
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on code so wrapped causes stay reachable through Unwrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stdErrors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return t.code == e.code
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code()
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	if status, ok := statusByCode[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
