package proxy

import (
	"errors"
	"fmt"
	"strings"
)

// Error is returned by every tree operation that fails.
//
// Code identifies the category; Op and Path locate the failing call. Err
// carries the underlying cause when there is one.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed (add, extend, sync, ...).
	Op string

	// Path is the node the operation ran on.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the wrapped cause.
	Err error
}

// ErrorCode categorizes tree errors.
type ErrorCode string

const (
	// ErrCodeValidation covers bad names, malformed extend parameters and
	// depth or circularity violations.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeResolution means a resource or source locator did not resolve.
	ErrCodeResolution ErrorCode = "RESOLUTION"

	// ErrCodeConflict means a name is already bound to a different node.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeStorage means reading or writing the persistent map failed.
	// The in-memory tree may be ahead of storage until the next sync.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeNotFound means a named child, extension or attribute is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeExtraction means the extractor failed or the artifact could not
	// be called or instantiated.
	ErrCodeExtraction ErrorCode = "EXTRACTION"

	// ErrCodeProgramming means the API was misused.
	ErrCodeProgramming ErrorCode = "PROGRAMMING"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, op, path string, err error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsValidation returns true if err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsResolution returns true if err is a resolution error.
func IsResolution(err error) bool { return CodeOf(err) == ErrCodeResolution }

// IsConflict returns true if err is a naming conflict.
func IsConflict(err error) bool { return CodeOf(err) == ErrCodeConflict }

// IsStorage returns true if err is a storage error.
func IsStorage(err error) bool { return CodeOf(err) == ErrCodeStorage }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsExtraction returns true if err is an extraction error.
func IsExtraction(err error) bool { return CodeOf(err) == ErrCodeExtraction }

// IsProgramming returns true if err reports API misuse.
func IsProgramming(err error) bool { return CodeOf(err) == ErrCodeProgramming }
