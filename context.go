// Package smiol is a Simple Message-passing I/O Library: a high-level
// parallel read/write interface to self-describing scientific array
// files, layered over a pluggable collective-I/O backend (internal/backend)
// and a pluggable messaging substrate (internal/comm). Only a designated
// subset of ranks ("I/O tasks") ever touch the backend directly; every
// other rank's reads and writes are redistributed to/from those ranks by
// internal/decomp's exchange plan.
package smiol

import (
	"fmt"
	"sync"

	"github.com/MPAS-Dev/smiol-go/internal/cksum"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/config"
	"github.com/MPAS-Dev/smiol-go/internal/metrics"
	"github.com/MPAS-Dev/smiol-go/internal/nlog"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// Context is a process-wide-per-instance handle: a duplicated group
// communicator, rank/size, the I/O-task selection, and two derived
// communicators grouping the I/O ranks. Validity is tracked with an
// explicit flag checked on every operation rather than a runtime
// sentinel value; Go has no borrow checker to lean on further, so a
// checked bool is the idiomatic stand-in here.
type Context struct {
	world  comm.Communicator // this Context's own duplicate of the caller's communicator
	ioTasks comm.Communicator // all I/O ranks
	ioGroup comm.Communicator // this rank's (I/O rank + followers) segment

	rank, size           int
	numIOTasks, ioStride int
	isIOTask             bool

	cfg     *config.Config
	log     *nlog.Logger
	metrics *metrics.Registry
	cksum   *cksum.Rolling

	mu       sync.Mutex
	lastErr  libError
	openFiles int
	valid    bool
}

type libError struct {
	tag  string
	code int
}

// Init duplicates comm into an internal communicator (so the caller
// remains free to Free its own), then splits that duplicate twice: once
// by io_task ∈ {0,1} to produce the all-I/O-tasks communicator, once by
// rank/io_stride to produce the per-I/O-group communicator.
func Init(c comm.Communicator, numIOTasks, ioStride int, opts ...config.Option) (*Context, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.InvalidArgument, "init: nil communicator")
	}
	if numIOTasks <= 0 || ioStride <= 0 {
		return nil, xerrors.New(xerrors.InvalidArgument, "init: num_io_tasks and io_stride must be positive")
	}

	dup, err := c.Dup()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	rank, size := dup.Rank(), dup.Size()
	isIOTask := rank%ioStride == 0 && rank < numIOTasks*ioStride

	ioColor := 0
	if isIOTask {
		ioColor = 1
	}
	ioTasks, err := dup.Split(ioColor, rank)
	if err != nil {
		_ = dup.Free()
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	ioGroup, err := dup.Split(rank/ioStride, rank)
	if err != nil {
		_ = ioTasks.Free()
		_ = dup.Free()
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	cfg := config.New(opts...)
	log := nlog.New(cfg.LogLevel, fmt.Sprintf("[r%d]", rank))
	seed := cksum.SeedFrom(int64(rank), int64(numIOTasks), int64(ioStride))

	return &Context{
		world:      dup,
		ioTasks:    ioTasks,
		ioGroup:    ioGroup,
		rank:       rank,
		size:       size,
		numIOTasks: numIOTasks,
		ioStride:   ioStride,
		isIOTask:   isIOTask,
		cfg:        cfg,
		log:        log,
		metrics:    metrics.NewRegistry(),
		cksum:      cksum.NewRolling(seed),
		valid:      true,
	}, nil
}

// Finalize frees the three communicators in reverse order of acquisition.
// It is an error to finalize a Context with files still open.
func (ctx *Context) Finalize() error {
	if err := ctx.checkValid(); err != nil {
		return err
	}
	ctx.mu.Lock()
	open := ctx.openFiles
	ctx.mu.Unlock()
	if open > 0 {
		return xerrors.New(xerrors.InvalidArgument, "finalize: context has open files")
	}
	var first error
	if err := ctx.ioGroup.Free(); err != nil && first == nil {
		first = xerrors.Wrap(xerrors.MessagingError, err)
	}
	if err := ctx.ioTasks.Free(); err != nil && first == nil {
		first = xerrors.Wrap(xerrors.MessagingError, err)
	}
	if err := ctx.world.Free(); err != nil && first == nil {
		first = xerrors.Wrap(xerrors.MessagingError, err)
	}
	ctx.mu.Lock()
	ctx.valid = false
	ctx.mu.Unlock()
	return first
}

func (ctx *Context) checkValid() error {
	if ctx == nil {
		return xerrors.New(xerrors.InvalidArgument, "context handle is absent")
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if !ctx.valid {
		return xerrors.New(xerrors.InvalidArgument, "context handle is no longer valid")
	}
	return nil
}

func (ctx *Context) recordLibError(tag string, code int) {
	ctx.mu.Lock()
	ctx.lastErr = libError{tag: tag, code: code}
	ctx.mu.Unlock()
}

// Rank returns this process's rank within the Context's communicator.
func (ctx *Context) Rank() int { return ctx.rank }

// Size returns the Context's communicator size.
func (ctx *Context) Size() int { return ctx.size }

// IsIOTask reports whether this rank issues backend calls directly.
func (ctx *Context) IsIOTask() bool { return ctx.isIOTask }

func (ctx *Context) registerOpen() {
	ctx.mu.Lock()
	ctx.openFiles++
	ctx.mu.Unlock()
}

func (ctx *Context) unregisterOpen() {
	ctx.mu.Lock()
	if ctx.openFiles > 0 {
		ctx.openFiles--
	}
	ctx.mu.Unlock()
}
