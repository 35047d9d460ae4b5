// Package xerrors defines the library's typed error taxonomy and its
// wrap/unwrap helpers. Broadcasting a backend return code to every rank
// before any rank inspects it is done by internal/meta's collectiveIO.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the library's error kinds.
type Kind int

const (
	Success Kind = iota
	MallocFailure
	InvalidArgument
	MessagingError
	ForeignBindingError
	LibraryError
	WrongArgType
	InsufficientArg
	AsyncError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case MallocFailure:
		return "memory allocation failure"
	case InvalidArgument:
		return "invalid argument"
	case MessagingError:
		return "messaging substrate error"
	case ForeignBindingError:
		return "foreign-language binding error"
	case LibraryError:
		return "backend library error"
	case WrongArgType:
		return "wrong argument type"
	case InsufficientArg:
		return "insufficient argument"
	case AsyncError:
		return "asynchronous operation error"
	default:
		return "unknown error"
	}
}

// Error is the library's error type: a Kind, an optional backend tag/code
// pair (populated only for LibraryError), and a wrapped cause chain built
// with github.com/pkg/errors so lib_error_string can render a full chain in
// debug logs while rank-uniform comparisons only ever look at Kind.
type Error struct {
	Kind     Kind
	LibTag   string
	LibCode  int
	cause    error
}

func (e *Error) Error() string {
	if e.Kind == LibraryError {
		return fmt.Sprintf("%s: %s[%d]: %v", e.Kind, e.LibTag, e.LibCode, e.cause)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a rank-local error of the given kind, wrapping msg with a
// stack trace via pkg/errors so the cause chain survives into logs.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap attaches kind to an existing error, preserving its chain.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.WithStack(err)}
}

// Library builds a LibraryError carrying the backend's own tag and code,
// the only error kind with sub-fields.
func Library(tag string, code int, err error) *Error {
	return &Error{Kind: LibraryError, LibTag: tag, LibCode: code, cause: errors.WithStack(err)}
}

// KindOf extracts the Kind from err, or Success if err is nil, or
// LibraryError for any foreign error this package didn't construct
// (callers at the public boundary should always receive a *Error).
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return LibraryError
}

// ErrorString implements error_string(code): every non-success kind maps
// to a non-empty, human-readable string.
func ErrorString(kind Kind) string {
	return kind.String()
}
