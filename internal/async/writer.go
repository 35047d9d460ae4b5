// Package async implements the single-writer background pipeline: a
// FIFO queue of pending write requests drained by one goroutine per open
// file, bounded by a pending-request slot count, with a collective
// buffer-pressure flush and a collective join-on-empty rendezvous across
// the file's I/O tasks.
package async

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/semaphore"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/cksum"
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/config"
	"github.com/MPAS-Dev/smiol-go/internal/metrics"
	"github.com/MPAS-Dev/smiol-go/internal/nlog"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

type slot struct {
	req    backend.Request
	result chan error
}

// Writer owns one file's write-back pipeline. It exists only on I/O task
// ranks: non-I/O ranks never enqueue directly, they hand data to an I/O
// task's Writer via internal/decomp.Transfer first.
type Writer struct {
	cfg     *config.Config
	be      backend.Backend
	ioComm  comm.Communicator // communicator grouping all I/O ranks
	log     *nlog.Logger
	mreg    *metrics.Registry
	label   string
	cksum   *cksum.Rolling

	queue   *Queue
	sem     *semaphore.Weighted

	// queuedBytes is the size of every descriptor sitting in queue or
	// about to be handed to the backend, incremented in Enqueue (the
	// foreground call path, so it reflects an entry the instant put_var
	// admits it) and decremented the instant run pops it back off (the
	// entry is then counted by be.BufferUse instead). Summing the two
	// gives a buffer-use figure that never lags a just-enqueued write,
	// unlike sampling be.BufferUse alone.
	queuedBytes int64

	mu      sync.Mutex
	pending []slot
	state   metrics.WriterState

	stopped int32
	wg      sync.WaitGroup
}

// NewWriter starts the background writer goroutine immediately, mirroring
// aistore's xaction pattern of a factory that both builds and starts the
// worker in one call.
func NewWriter(cfg *config.Config, be backend.Backend, ioComm comm.Communicator, log *nlog.Logger, mreg *metrics.Registry, label string, ck *cksum.Rolling) *Writer {
	w := &Writer{
		cfg:    cfg,
		be:     be,
		ioComm: ioComm,
		log:    log,
		mreg:   mreg,
		label:  label,
		cksum:  ck,
		queue:  NewQueue(),
		sem:    semaphore.NewWeighted(int64(cfg.NReqs)),
		state:  metrics.StateIdle,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) setState(s metrics.WriterState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.mreg.RecordState(w.label, s)
}

func (w *Writer) isStopped() bool { return atomic.LoadInt32(&w.stopped) == 1 }

// Enqueue posts one put_var worth of data onto the FIFO and returns a
// descriptor whose Result channel receives the outcome (nil or an error)
// once the backend put has actually completed and been waited on - not
// merely issued. Enqueue itself returns immediately; completion is only
// observable via join_writer or the next collective sync.
func (w *Writer) Enqueue(varID int, start, count []int64, data []byte) *Descriptor {
	id, err := shortid.Generate()
	if err != nil {
		id = ""
	}
	d := &Descriptor{
		ID:         id,
		VarID:      varID,
		Start:      append([]int64(nil), start...),
		Count:      append([]int64(nil), count...),
		Data:       data,
		EnqueuedAt: time.Now(),
		Result:     make(chan error, 1),
	}
	atomic.AddInt64(&w.queuedBytes, int64(len(data)))
	w.queue.Push(d)
	w.mreg.SetQueueDepth(w.label, w.queue.Len())
	return d
}

func (w *Writer) run() {
	defer w.wg.Done()
	runtime.LockOSThread()
	pinToCores(w.log, w.cfg.WriterAffinity)
	ctx := context.Background()
	for {
		w.setState(metrics.StateSpinning)
		d, ok := w.queue.pop(w.isStopped)
		if !ok {
			w.setState(metrics.StateExiting)
			return
		}
		atomic.AddInt64(&w.queuedBytes, -int64(len(d.Data)))
		w.setState(metrics.StateDraining)
		if err := w.sem.Acquire(ctx, 1); err != nil {
			d.Result <- xerrors.Wrap(xerrors.AsyncError, err)
			continue
		}
		w.setState(metrics.StateIssuing)
		sampleDriveStats(w.log, w.label)
		req, err := w.be.PutVarNB(d.VarID, d.Start, d.Count, d.Data)
		if err != nil {
			w.sem.Release(1)
			d.Result <- xerrors.Wrap(xerrors.LibraryError, err)
			continue
		}
		if w.cksum != nil {
			w.cksum.Write(d.Data)
		}
		w.mu.Lock()
		w.pending = append(w.pending, slot{req: req, result: d.Result})
		w.mu.Unlock()
		w.mreg.SetQueueDepth(w.label, w.queue.Len())
		if w.mreg != nil {
			w.mreg.PutToDrain.WithLabelValues(w.label).Observe(time.Since(d.EnqueuedAt).Seconds())
		}
	}
}

// drainPending waits on every issued-but-unwaited backend request,
// releasing its semaphore slot and delivering the shared outcome to each
// request's original caller.
func (w *Writer) drainPending() error {
	w.mu.Lock()
	slots := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(slots) == 0 {
		return nil
	}
	reqs := make([]backend.Request, len(slots))
	for i, s := range slots {
		reqs[i] = s.req
	}
	err := w.be.WaitAll(reqs)
	for _, s := range slots {
		w.sem.Release(1)
		if s.result != nil {
			s.result <- err
		}
	}
	if err != nil {
		return xerrors.Wrap(xerrors.LibraryError, err)
	}
	return nil
}

// FlushIfPressured is called synchronously from the put_var call path,
// which is itself collective across every I/O task, so every Writer on
// every I/O task calls this in lockstep, contributes its own local
// figures to two all-reduces, and so necessarily reaches the identical
// decision as every other I/O task - no rank can flush alone. It forces
// a full collective flush (Join) when either bound trips:
//
//   - the backlog of descriptors queued-or-in-flight on any I/O task has
//     reached NReqs, rather than letting the enqueue-side semaphore
//     silently stall the writer goroutine once that many requests are
//     outstanding;
//   - the projected maximum buffer use across I/O tasks has crossed the
//     watermark against BUFSIZE. The projection is queuedBytes (this
//     entry and any others not yet handed to the backend) plus
//     be.BufferUse (entries the backend already has in flight), so the
//     entry just enqueued by this very call is always counted - sampling
//     be.BufferUse alone would miss it until the background goroutine
//     gets around to issuing it.
func (w *Writer) FlushIfPressured() error {
	w.mu.Lock()
	backlog := int64(w.queue.Len() + len(w.pending))
	w.mu.Unlock()
	maxBacklog, err := w.ioComm.AllreduceMax(backlog)
	if err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}

	local := atomic.LoadInt64(&w.queuedBytes) + w.be.BufferUse()
	maxUse, err := w.ioComm.AllreduceMax(local)
	if err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}
	w.mreg.SetBufferUse(maxUse)

	if maxBacklog < int64(w.cfg.NReqs) && maxUse < int64(float64(w.cfg.BufSize)*0.9) {
		return nil
	}
	return w.Join()
}

// Join is the collective "join_writer" operation: every I/O task drains
// its local queue, waits all outstanding backend requests, then
// busy-spins an AllreduceSum rendezvous confirming every I/O task agrees
// its backlog (queue plus in-flight requests) is zero before any of them
// proceeds to call the collective Sync.
func (w *Writer) Join() error {
	w.setState(metrics.StateFlushing)
	w.queue.waitDrained()
	if err := w.drainPending(); err != nil {
		return err
	}
	for {
		w.mu.Lock()
		backlog := int64(w.queue.Len() + len(w.pending))
		w.mu.Unlock()
		sum, err := w.ioComm.AllreduceSum(backlog)
		if err != nil {
			return xerrors.Wrap(xerrors.MessagingError, err)
		}
		if sum == 0 {
			break
		}
		runtime.Gosched()
		w.queue.waitDrained()
		if err := w.drainPending(); err != nil {
			return err
		}
	}
	if err := w.be.Sync(); err != nil {
		return xerrors.Wrap(xerrors.LibraryError, err)
	}
	w.setState(metrics.StateIdle)
	return nil
}

// Close joins outstanding work, then stops and reaps the writer
// goroutine: close_file joins the writer, flushes the backend, then
// releases file-scoped resources.
func (w *Writer) Close() error {
	err := w.Join()
	atomic.StoreInt32(&w.stopped, 1)
	w.queue.wake()
	w.wg.Wait()
	return err
}
