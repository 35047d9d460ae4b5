// Package backend defines the self-describing-array-file capability set
// the core is built against, plus a fully functional local-disk
// reference implementation and thinner adapters for remote object
// stores. The underlying wire format is out of scope here; this package
// only defines the *interface* the rest of the library calls through,
// modeling what would otherwise be compile-time feature flags
// (PNETCDF-style vs. aggregation-capable backends) as trait objects
// instead.
package backend

import "fmt"

// VarType is the library's language-neutral variable-type enumeration.
type VarType int

const (
	Unknown VarType = iota
	Real32
	Real64
	Int32
	Char
)

func (t VarType) String() string {
	switch t {
	case Real32:
		return "REAL32"
	case Real64:
		return "REAL64"
	case Int32:
		return "INT32"
	case Char:
		return "CHAR"
	default:
		return "UNKNOWN"
	}
}

// Size returns the byte width of one element of this type (Char elements
// are one byte each), or 0 for Unknown.
func (t VarType) Size() int {
	switch t {
	case Real32, Int32:
		return 4
	case Real64:
		return 8
	case Char:
		return 1
	default:
		return 0
	}
}

// UnlimitedSize is the sentinel dimension size (any size < 0) denoting
// the record dimension.
const UnlimitedSize int64 = -1

// Request is a handle to a posted buffered non-blocking put, completed
// only by a subsequent WaitAll call on the same Backend.
type Request interface {
	ID() int64
}

// Backend is the capability set every concrete storage implementation
// must provide. All methods are called only on I/O-task ranks; the rest
// of the library is responsible for broadcasting results across the
// remaining ranks.
type Backend interface {
	Create(path string) error
	Open(path string, writable bool) error
	Close() error

	DefineDim(name string, size int64) (id int, err error)
	InquireDim(name string) (id int, size int64, err error)

	DefineVar(name string, vtype VarType, dimIDs []int) (id int, err error)
	InquireVar(name string) (id int, vtype VarType, dimIDs []int, err error)

	DefineAtt(varID int, name string, vtype VarType, value []byte) error
	InquireAtt(varID int, name string) (vtype VarType, value []byte, err error)

	PutVarNB(varID int, start, count []int64, data []byte) (Request, error)
	GetVar(varID int, start, count []int64, buf []byte) error

	AttachBuffer(size int64) error
	DetachBuffer() error

	Sync() error
	WaitAll(reqs []Request) error

	// BufferUse reports current pinned-buffer bytes committed to
	// in-flight (not yet waited-on) requests, for the writer's
	// buffer-pressure accounting.
	BufferUse() int64
}

// ErrNotFound-style helper constructors kept small and local to this
// package; the rank-uniform error taxonomy lives in internal/xerrors and
// is applied by callers (internal/meta, internal/async), not here, since
// Backend implementations are meant to be swappable independent of this
// library's own error kinds.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

type AlreadyDefinedError struct {
	Kind string
	Name string
}

func (e *AlreadyDefinedError) Error() string {
	return fmt.Sprintf("%s %q already defined", e.Kind, e.Name)
}
