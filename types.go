package smiol

import (
	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// VarType is the library's variable-type enumeration.
type VarType = backend.VarType

const (
	Unknown VarType = backend.Unknown
	Real32  VarType = backend.Real32
	Real64  VarType = backend.Real64
	Int32   VarType = backend.Int32
	Char    VarType = backend.Char
)

// FileMode is a bit-flag set; CREATE and READ are mutually exclusive and
// at least one flag must be set.
type FileMode int

const (
	Create FileMode = 1 << iota
	Write
	Read
)

func (m FileMode) validate() error {
	if m == 0 {
		return xerrors.New(xerrors.InvalidArgument, "open_file: mode has no flags set")
	}
	if m&Create != 0 && m&Read != 0 {
		return xerrors.New(xerrors.InvalidArgument, "open_file: CREATE and READ are mutually exclusive")
	}
	return nil
}

// ErrorKind is the library's error-kind enumeration.
type ErrorKind = xerrors.Kind

const (
	Success             = xerrors.Success
	MallocFailure       = xerrors.MallocFailure
	InvalidArgument     = xerrors.InvalidArgument
	MessagingError      = xerrors.MessagingError
	ForeignBindingError = xerrors.ForeignBindingError
	LibraryError        = xerrors.LibraryError
	WrongArgType        = xerrors.WrongArgType
	InsufficientArg     = xerrors.InsufficientArg
	AsyncError          = xerrors.AsyncError
)

// ErrorString implements error_string(code): every non-success kind maps
// to a non-empty, human-readable string.
func ErrorString(kind ErrorKind) string { return xerrors.ErrorString(kind) }

// KindOf extracts the ErrorKind from err, or Success if err is nil.
func KindOf(err error) ErrorKind { return xerrors.KindOf(err) }

// LibErrorString renders the context's most recently recorded backend
// error as a human-readable string, or "" if none has been recorded yet.
func (ctx *Context) LibErrorString() string {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.lastErr.tag == "" {
		return ""
	}
	return xerrors.Library(ctx.lastErr.tag, ctx.lastErr.code, nil).Error()
}
