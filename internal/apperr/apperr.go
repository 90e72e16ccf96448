// Package apperr carries the coded errors that the ingestion pipeline
// surfaces to callers as {message, code} pairs.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-visible error category.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeInvalidFile      Code = "INVALID_FILE"
	CodeFileTooLarge     Code = "FILE_TOO_LARGE"
	CodePDFParse         Code = "PDF_PARSE_ERROR"
	CodeEmptyPDF         Code = "EMPTY_PDF"
	CodeExtraction       Code = "EXTRACTION_ERROR"
	CodeLLMQuotaExceeded Code = "LLM_QUOTA_EXCEEDED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeQuotaExceeded    Code = "QUOTA_EXCEEDED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is an error with a caller-visible code and message. Err holds the
// underlying cause, which is logged but never shown to the caller.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and caller-safe message to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
