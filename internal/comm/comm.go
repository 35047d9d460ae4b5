// Package comm defines the messaging-substrate interface the core is
// built against: point-to-point send/receive, broadcast, collectives,
// and communicator duplication/splitting, treated as an external
// messaging layer the core never implements itself. It also provides a
// single in-process reference implementation, comm.Local, used
// throughout this module's own test suite. A real MPI binding
// satisfying the same Communicator interface would need no changes to
// any of internal/decomp, internal/async, internal/meta, or the root
// package.
package comm

import (
	"fmt"

	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// Request is a handle to a posted non-blocking point-to-point operation.
type Request interface {
	Wait() error
}

// Communicator is the capability set this library needs from a messaging
// substrate: rank identity, communicator lifetime management, and the
// specific point-to-point and collective operations the core relies on
// by name (All-reduce SUM/MAX, broadcast, all-to-all, gatherv,
// scatterv).
type Communicator interface {
	Rank() int
	Size() int

	// Dup duplicates this communicator: same membership, independent
	// message/collective namespace, so two dup'd communicators never
	// observe each other's traffic. Init uses this to duplicate the
	// caller's communicator into an internal one, leaving the caller free
	// to free its own.
	Dup() (Communicator, error)

	// Split partitions this communicator's members by color, ordering
	// each resulting sub-communicator's ranks by key (ties broken by the
	// parent rank). Every member must call Split collectively, with the
	// same sequence of prior collective calls on every rank.
	Split(color, key int) (Communicator, error)

	Free() error

	ISend(dst, tag int, data []byte) (Request, error)
	IRecv(src, tag int, buf []byte) (Request, error)

	Bcast(root int, data []byte) ([]byte, error)
	AllreduceSum(in int64) (int64, error)
	AllreduceMax(in int64) (int64, error)

	// Gatherv returns, on every rank, the full set of per-rank
	// contributions in rank order (a simulation convenience over raw
	// MPI_Gatherv, where only root would receive the payload; callers
	// that care about "root only" simply ignore the result on non-root
	// ranks, exactly as the aggregation step does).
	Gatherv(root int, data []byte) ([][]byte, error)

	// Scatterv distributes data (meaningful only as contributed by root;
	// other ranks' contributions are ignored) back out one slice per
	// rank, returning this rank's own share.
	Scatterv(root int, data [][]byte) ([]byte, error)

	// Alltoallv exchanges per-destination payloads: every rank supplies a
	// map of destination rank -> bytes, and receives back a map of
	// source rank -> bytes.
	Alltoallv(sendTo map[int][]byte) (map[int][]byte, error)

	Barrier() error
}

// WaitAll waits for every request to complete, returning the first error
// encountered: the next call that joins the writer surfaces the first
// non-success it finds.
func WaitAll(reqs []Request) error {
	var first error
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// doneRequest is a Request that is already complete.
type doneRequest struct{ err error }

func (d doneRequest) Wait() error { return d.err }

func invalidf(format string, args ...any) error {
	return xerrors.New(xerrors.InvalidArgument, fmt.Sprintf(format, args...))
}
