package smiol

import (
	"strings"
	"sync"

	"github.com/MPAS-Dev/smiol-go/internal/async"
	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/backend/azure"
	"github.com/MPAS-Dev/smiol-go/internal/backend/gcs"
	"github.com/MPAS-Dev/smiol-go/internal/backend/hdfs"
	"github.com/MPAS-Dev/smiol-go/internal/backend/local"
	"github.com/MPAS-Dev/smiol-go/internal/backend/s3"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/meta"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// File is an open backend file plus the per-file communicators, metadata
// state machine, and async writer that make it usable from every rank.
// Only I/O-task ranks hold a non-nil backend/writer; every other rank
// still holds valid metadata and communicator handles so collective
// calls (define_dim, sync_file, ...) can be entered uniformly.
type File struct {
	ctx  *Context
	path string
	mode FileMode

	isIOTask    bool
	be          backend.Backend
	firstOpen   bool // true if this rank's Acquire created the shared backend (see backend/local.Acquire)
	localShared bool // true when be is a refcounted *local.Local (see backend/local.Acquire)
	groupComm   comm.Communicator
	ioTasksComm comm.Communicator

	meta   *meta.Meta
	writer *async.Writer

	mu    sync.Mutex
	valid bool
}

// selectBackend dispatches on path's URL scheme to the Backend
// implementation that serves it. Only the local disk backend is a fully
// functional reference
// implementation; remote schemes are thinner adapters (see DESIGN.md).
// first is true exactly for the I/O task responsible for actually
// calling Create/Open/Close on the returned Backend; see
// backend/local.Acquire for why more than one rank can share one
// instance when this module's own test suite simulates many ranks in a
// single process.
func selectBackend(path string, compress bool) (be backend.Backend, first, shared bool, err error) {
	scheme, _, found := strings.Cut(path, "://")
	if !found {
		l, first := local.Acquire(path, compress)
		return l, first, true, nil
	}
	switch scheme {
	case "file":
		l, first := local.Acquire(path, compress)
		return l, first, true, nil
	case "s3":
		// Remote schemes have no in-process sharing problem: each I/O
		// task is already expected to be a separate process with its own
		// client talking to the same remote path, so every caller is
		// "first" (see backend/local.Acquire's doc comment for why local
		// needs the opposite).
		return s3.New(), true, false, nil
	case "azure":
		return azure.New(), true, false, nil
	case "gcs":
		return gcs.New(), true, false, nil
	case "hdfs":
		return hdfs.New(), true, false, nil
	default:
		return nil, false, false, xerrors.New(xerrors.InvalidArgument, "open_file: unsupported backend scheme "+scheme)
	}
}

// OpenFile duplicates each of ctx's two derived communicators into
// file-local copies (so concurrently open files never share communicator
// namespaces), opens or creates the backend file on I/O tasks only,
// attaches a pinned write buffer when the mode includes write-like
// access, and broadcasts the backend's return code across the I/O-group
// communicator so non-I/O ranks learn of a failure.
func OpenFile(ctx *Context, path string, mode FileMode) (*File, error) {
	if err := ctx.checkValid(); err != nil {
		return nil, err
	}
	if err := mode.validate(); err != nil {
		return nil, err
	}

	groupComm, err := ctx.ioGroup.Dup()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}
	ioTasksComm, err := ctx.ioTasks.Dup()
	if err != nil {
		_ = groupComm.Free()
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	var be backend.Backend
	var first, shared bool
	var openPayload []byte
	if ctx.isIOTask {
		be, first, shared, err = selectBackend(path, ctx.cfg.CompressBuffer)
		if err == nil && first {
			if mode&Create != 0 {
				err = be.Create(path)
			} else {
				err = be.Open(path, mode&Write != 0)
			}
			if err == nil && mode&(Create|Write) != 0 {
				err = be.AttachBuffer(ctx.cfg.BufSize)
			}
		}
		if err != nil {
			ctx.recordLibError("smiol-backend", 1)
			openPayload = []byte{1}
		} else {
			openPayload = []byte{0}
		}
	}
	res, bcastErr := groupComm.Bcast(0, openPayload)
	if bcastErr != nil {
		_ = ioTasksComm.Free()
		_ = groupComm.Free()
		return nil, xerrors.Wrap(xerrors.MessagingError, bcastErr)
	}
	if len(res) == 0 || res[0] == 1 {
		_ = ioTasksComm.Free()
		_ = groupComm.Free()
		return nil, xerrors.Library("smiol-backend", 1, err)
	}

	initialState := meta.Data
	if mode&Create != 0 {
		initialState = meta.Define
	}
	m := meta.New(be, ioTasksComm, groupComm, ctx.isIOTask, initialState, ctx.log)

	var w *async.Writer
	if ctx.isIOTask && mode&(Create|Write) != 0 {
		w = async.NewWriter(ctx.cfg, be, ioTasksComm, ctx.log, ctx.metrics, path, ctx.cksum)
	}

	f := &File{
		ctx:         ctx,
		path:        path,
		mode:        mode,
		isIOTask:    ctx.isIOTask,
		be:          be,
		firstOpen:   first,
		localShared: shared,
		groupComm:   groupComm,
		ioTasksComm: ioTasksComm,
		meta:        m,
		writer:      w,
		valid:       true,
	}
	ctx.registerOpen()
	return f, nil
}

func (f *File) checkValid() error {
	if f == nil {
		return xerrors.New(xerrors.InvalidArgument, "file handle is absent")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid {
		return xerrors.New(xerrors.InvalidArgument, "file handle is no longer valid")
	}
	return nil
}

// CloseFile joins the writer, detaches the pinned buffer (write modes
// only), closes the backend handle on I/O tasks, and releases file-local
// communicators.
func (f *File) CloseFile() error {
	if err := f.checkValid(); err != nil {
		return err
	}
	var firstErr error
	if f.writer != nil {
		if err := f.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.isIOTask {
		last := f.firstOpen // remote adapters: the opener is always the only owner
		if f.localShared {
			last = local.Release(f.path)
		}
		if last {
			if f.mode&(Create|Write) != 0 {
				if err := f.be.DetachBuffer(); err != nil && firstErr == nil {
					firstErr = xerrors.Wrap(xerrors.LibraryError, err)
				}
			}
			if err := f.be.Close(); err != nil && firstErr == nil {
				firstErr = xerrors.Wrap(xerrors.LibraryError, err)
			}
		}
	}
	if err := f.ioTasksComm.Free(); err != nil && firstErr == nil {
		firstErr = xerrors.Wrap(xerrors.MessagingError, err)
	}
	if err := f.groupComm.Free(); err != nil && firstErr == nil {
		firstErr = xerrors.Wrap(xerrors.MessagingError, err)
	}
	_ = f.meta.Close()
	f.mu.Lock()
	f.valid = false
	f.mu.Unlock()
	f.ctx.unregisterOpen()
	return firstErr
}

func (f *File) DefineDim(name string, size int64) (int, error) {
	if err := f.checkValid(); err != nil {
		return 0, err
	}
	return f.meta.DefineDim(name, size)
}

func (f *File) InquireDim(name string) (id int, size int64, err error) {
	if err := f.checkValid(); err != nil {
		return 0, 0, err
	}
	return f.meta.InquireDim(name)
}

func (f *File) DefineVar(name string, vtype VarType, dimNames []string) (int, error) {
	if err := f.checkValid(); err != nil {
		return 0, err
	}
	return f.meta.DefineVar(name, vtype, dimNames)
}

func (f *File) InquireVar(name string) (id int, vtype VarType, dimIDs []int, err error) {
	if err := f.checkValid(); err != nil {
		return 0, Unknown, nil, err
	}
	return f.meta.InquireVar(name)
}

// DefineAtt defines an attribute; varName is "" for a global attribute.
func (f *File) DefineAtt(varName, name string, vtype VarType, value []byte) error {
	if err := f.checkValid(); err != nil {
		return err
	}
	varID := meta.GlobalAttVar
	if varName != "" {
		id, _, _, err := f.meta.InquireVar(varName)
		if err != nil {
			return err
		}
		varID = id
	}
	return f.meta.DefineAtt(varID, name, vtype, value)
}

func (f *File) InquireAtt(varName, name string) (vtype VarType, value []byte, err error) {
	if err := f.checkValid(); err != nil {
		return Unknown, nil, err
	}
	varID := meta.GlobalAttVar
	if varName != "" {
		id, _, _, ierr := f.meta.InquireVar(varName)
		if ierr != nil {
			return Unknown, nil, ierr
		}
		varID = id
	}
	return f.meta.InquireAtt(varID, name)
}

// SyncFile joins the writer (observing only writes enqueued before this
// call), flushes the backend to storage, and transitions to DATA state.
func (f *File) SyncFile() error {
	if err := f.checkValid(); err != nil {
		return err
	}
	if f.writer != nil {
		if err := f.writer.Join(); err != nil {
			return err
		}
	} else if f.isIOTask {
		if err := f.be.Sync(); err != nil {
			return xerrors.Wrap(xerrors.LibraryError, err)
		}
	}
	return f.meta.SyncTransition()
}

func (f *File) SetFrame(frame int64) error {
	if err := f.checkValid(); err != nil {
		return err
	}
	f.meta.SetFrame(frame)
	return nil
}

func (f *File) GetFrame() (int64, error) {
	if err := f.checkValid(); err != nil {
		return 0, err
	}
	return f.meta.GetFrame(), nil
}
