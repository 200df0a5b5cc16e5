// Package extract turns a named symbol inside a source text into a callable
// artifact.
//
// Two kinds of symbol exist. A function is called with positional arguments
// and, when it declares a receiver, with the node it is attached to. A
// class is instantiated into an Object with attributes and methods; a class
// may also declare a variant ("container" or "resource"), which makes it
// usable as a monkey-patch for that node kind.
//
// Extraction never evaluates anything beyond the requested symbol. The
// supported source languages are CUE (.cue) and HCL (.hcl); natively
// registered Go symbols are available through Registry.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/oproxy/internal/ir"
	"github.com/roach88/oproxy/internal/resource"
)

// Variant names the node kind a class can stand in for.
type Variant string

const (
	VariantNone      Variant = ""
	VariantContainer Variant = "container"
	VariantResource  Variant = "resource"
)

// Receiver is the node an artifact is bound to.
type Receiver interface {
	// Describe returns plain data about the node (path, name, kind, ...).
	Describe() map[string]any
}

// Artifact is anything an Extractor returns.
type Artifact interface {
	Kind() ir.SymbolKind
	Symbol() string
}

// Func is an extracted function.
type Func interface {
	Artifact
	// Receiver reports whether the function expects the owning node as an
	// implicit first argument.
	Receiver() bool
	Call(ctx context.Context, self Receiver, args ...any) (any, error)
}

// Class is an extracted type.
type Class interface {
	Artifact
	Variant() Variant
	New(ctx context.Context, args ...any) (Object, error)
}

// Object is an instance of a Class.
type Object interface {
	Class() string
	Attr(name string) (any, bool)
	Attrs() []string
	HasMethod(name string) bool
	Invoke(ctx context.Context, method string, args ...any) (any, error)
}

// Extractor extracts one symbol from a source.
type Extractor interface {
	Extract(ctx context.Context, kind ir.SymbolKind, symbol string, src resource.Source) (Artifact, error)
}

// ErrorCode classifies extraction failures.
type ErrorCode string

const (
	// ErrCodeSymbolNotFound means the source has no such symbol.
	ErrCodeSymbolNotFound ErrorCode = "SYMBOL_NOT_FOUND"

	// ErrCodeParseFailed means the source does not parse or compile.
	ErrCodeParseFailed ErrorCode = "PARSE_FAILED"

	// ErrCodeKindMismatch means the symbol exists but is of the other kind.
	ErrCodeKindMismatch ErrorCode = "KIND_MISMATCH"

	// ErrCodeUnsupportedSource means no extractor handles the source.
	ErrCodeUnsupportedSource ErrorCode = "UNSUPPORTED_SOURCE"

	// ErrCodeEvalFailed means calling or instantiating the artifact failed.
	ErrCodeEvalFailed ErrorCode = "EVAL_FAILED"
)

// Error is returned for every extraction failure.
type Error struct {
	Code    ErrorCode
	Kind    ir.SymbolKind
	Symbol  string
	Source  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %q from %s", e.Code, e.Kind, e.Symbol, e.Source)
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

func newError(code ErrorCode, kind ir.SymbolKind, symbol, source, message string, err error) *Error {
	return &Error{Code: code, Kind: kind, Symbol: symbol, Source: source, Message: message, Err: err}
}

// IsNotFound reports whether err is a missing-symbol error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeSymbolNotFound)
}

// IsParseError reports whether err is a parse or compile error.
func IsParseError(err error) bool {
	return hasCode(err, ErrCodeParseFailed)
}

// IsKindMismatch reports whether err is a kind mismatch.
func IsKindMismatch(err error) bool {
	return hasCode(err, ErrCodeKindMismatch)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
