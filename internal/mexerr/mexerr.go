// Package mexerr defines MiniExpr's compile-time diagnostic type and the
// closed set of stable status codes returned across the library boundary.
// It is a typed error carrying a source location, trimmed to what a
// library boundary needs: no call-stack rendering, since MiniExpr is not
// an interactive runtime.
package mexerr

import (
	"fmt"

	"github.com/pkg/errors"
	"miniexpr/internal/lexer"
)

// Kind partitions compile-time diagnostics.
type Kind string

const (
	KindParse       Kind = "ParseError"
	KindType        Kind = "TypeError"
	KindUnknownName Kind = "UnknownNameError"
	KindUnsupported Kind = "UnsupportedError"
	KindInternal    Kind = "InternalError"
)

// CompileError is the diagnostic returned from Compile/CompileND. It always
// carries the source position of the failure.
type CompileError struct {
	Kind Kind
	Msg  string
	Pos  lexer.Position
	// cause chains an underlying error (e.g. a LexError) with context,
	// preserved via github.com/pkg/errors so %+v still shows it.
	cause error
}

func New(kind Kind, pos lexer.Position, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...), Pos: pos}
}

func Wrap(kind Kind, pos lexer.Position, cause error, msg string) *CompileError {
	return &CompileError{Kind: kind, Msg: msg, Pos: pos, cause: errors.Wrap(cause, msg)}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s at %s", e.Kind, e.Msg, e.Pos)
}

func (e *CompileError) Unwrap() error {
	return e.cause
}

// Status is the closed set of stable return codes for compile/eval.
// Values are stable across releases: callers may switch on them.
type Status int32

const (
	Success Status = iota

	// compile() codes
	ErrParse
	ErrInvalidArgType
	ErrUnknownName
	ErrUnsupported
	ErrInternal

	// eval() codes
	ErrInvalidArg
	ErrShape
	ErrRuntime
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case ErrParse:
		return "ERR_PARSE"
	case ErrInvalidArgType:
		return "ERR_INVALID_ARG_TYPE"
	case ErrUnknownName:
		return "ERR_UNKNOWN_NAME"
	case ErrUnsupported:
		return "ERR_UNSUPPORTED"
	case ErrInternal:
		return "ERR_INTERNAL"
	case ErrInvalidArg:
		return "ERR_INVALID_ARG"
	case ErrShape:
		return "ERR_SHAPE"
	case ErrRuntime:
		return "ERR_RUNTIME"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// StatusForCompileError maps a CompileError's Kind to its stable Status.
func StatusForCompileError(err *CompileError) Status {
	switch err.Kind {
	case KindParse:
		return ErrParse
	case KindType:
		return ErrInvalidArgType
	case KindUnknownName:
		return ErrUnknownName
	case KindUnsupported:
		return ErrUnsupported
	default:
		return ErrInternal
	}
}

// RuntimeError is returned from Eval/EvalND (non-fatal to the process and
// to the Expr).
type RuntimeError struct {
	Status Status
	Msg    string
	cause  error
}

func NewRuntime(status Status, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

func WrapRuntime(status Status, cause error, msg string) *RuntimeError {
	return &RuntimeError{Status: status, Msg: msg, cause: errors.Wrap(cause, msg)}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Msg)
}

func (e *RuntimeError) Unwrap() error {
	return e.cause
}
