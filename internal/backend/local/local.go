// Package local is the only Backend implementation in this module required
// to round-trip real bytes: every end-to-end correctness test runs
// against it. It stores a simple self-describing container directly in
// memory and mirrors it to a local *os.File on Sync/Close, with buffered
// non-blocking puts genuinely executed by a small worker pool so the async
// writer (internal/async) has real backpressure to observe.
package local

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pierrec/lz4/v3"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
)

type dimDef struct {
	Name string
	Size int64 // backend.UnlimitedSize for the record dimension
}

type varDef struct {
	Name   string
	VType  backend.VarType
	DimIDs []int
	Buf    []byte
}

type attDef struct {
	VType backend.VarType
	Value []byte
}

type attKey struct {
	VarID int // -1 for global
	Name  string
}

// Local is a process-local, functional Backend.
type Local struct {
	path      string
	writable  bool
	file      *os.File
	compress  bool

	mu   sync.Mutex
	dims []dimDef
	vars []varDef
	atts map[attKey]attDef

	bufCap  int64
	bufUse  int64
	reqID   int64
	jobs    chan *job
	jobsWG  sync.WaitGroup
	workers int
}

// New constructs an unopened Local backend. compress enables the optional
// LZ4 compression of flushed segments.
func New(compress bool) *Local {
	l := &Local{
		atts:    map[attKey]attDef{},
		compress: compress,
		workers: 4,
	}
	return l
}

type job struct {
	v      *varDef
	start  []int64
	count  []int64
	data   []byte
	done   chan error
}

func (l *Local) startWorkers() {
	l.jobs = make(chan *job, 4096)
	for i := 0; i < l.workers; i++ {
		l.jobsWG.Add(1)
		go func() {
			defer l.jobsWG.Done()
			for j := range l.jobs {
				err := l.writeHyperslab(j.v, j.start, j.count, j.data)
				j.done <- err
			}
		}()
	}
}

func (l *Local) stopWorkers() {
	if l.jobs != nil {
		close(l.jobs)
		l.jobsWG.Wait()
		l.jobs = nil
	}
}

func (l *Local) Create(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	l.writable = true
	l.dims = nil
	l.vars = nil
	l.atts = map[attKey]attDef{}
	l.startWorkers()
	return nil
}

func (l *Local) Open(path string, writable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	l.writable = writable
	f, err := os.Open(path)
	if err != nil {
		if writable && os.IsNotExist(err) {
			l.startWorkers()
			return nil
		}
		return err
	}
	defer f.Close()
	if err := l.decodeFrom(f); err != nil {
		return err
	}
	l.startWorkers()
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWorkers()
	if l.writable && l.path != "" {
		return l.flushToDisk()
	}
	return nil
}

func (l *Local) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writable && l.path != "" {
		return l.flushToDisk()
	}
	return nil
}

// wireImage is the gob-encodable snapshot persisted to disk.
type wireImage struct {
	Dims []dimDef
	Vars []varDef
	Atts map[attKey]attDef
}

func (l *Local) flushToDisk() error {
	img := wireImage{Dims: l.dims, Vars: l.vars, Atts: l.atts}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		return err
	}
	payload := buf.Bytes()
	if l.compress {
		compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, compressed, nil)
		if err == nil && n > 0 {
			payload = compressed[:n]
		}
	}
	f, err := os.Create(l.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(payload)
	return err
}

func (l *Local) decodeFrom(f *os.File) error {
	data, err := os_ReadAll(f)
	if err != nil {
		return err
	}
	var img wireImage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&img); err != nil {
		return err
	}
	l.dims = img.Dims
	l.vars = img.Vars
	l.atts = img.Atts
	if l.atts == nil {
		l.atts = map[attKey]attDef{}
	}
	return nil
}

func (l *Local) DefineDim(name string, size int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range l.dims {
		if d.Name == name {
			return 0, &backend.AlreadyDefinedError{Kind: "dimension", Name: name}
		}
	}
	l.dims = append(l.dims, dimDef{Name: name, Size: size})
	return len(l.dims) - 1, nil
}

func (l *Local) InquireDim(name string) (int, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, d := range l.dims {
		if d.Name == name {
			return i, d.Size, nil
		}
	}
	return 0, 0, &backend.NotFoundError{Kind: "dimension", Name: name}
}

func (l *Local) DefineVar(name string, vtype backend.VarType, dimIDs []int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.vars {
		if v.Name == name {
			return 0, &backend.AlreadyDefinedError{Kind: "variable", Name: name}
		}
	}
	l.vars = append(l.vars, varDef{Name: name, VType: vtype, DimIDs: append([]int(nil), dimIDs...)})
	return len(l.vars) - 1, nil
}

func (l *Local) InquireVar(name string) (int, backend.VarType, []int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, v := range l.vars {
		if v.Name == name {
			return i, v.VType, append([]int(nil), v.DimIDs...), nil
		}
	}
	return 0, backend.Unknown, nil, &backend.NotFoundError{Kind: "variable", Name: name}
}

func (l *Local) DefineAtt(varID int, name string, vtype backend.VarType, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.atts[attKey{VarID: varID, Name: name}] = attDef{VType: vtype, Value: append([]byte(nil), value...)}
	return nil
}

func (l *Local) InquireAtt(varID int, name string) (backend.VarType, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.atts[attKey{VarID: varID, Name: name}]
	if !ok {
		return backend.Unknown, nil, &backend.NotFoundError{Kind: "attribute", Name: name}
	}
	return a.VType, append([]byte(nil), a.Value...), nil
}

func (l *Local) AttachBuffer(size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bufCap = size
	return nil
}

func (l *Local) DetachBuffer() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bufCap = 0
	return nil
}

func (l *Local) BufferUse() int64 { return atomic.LoadInt64(&l.bufUse) }

type localRequest struct {
	id   int64
	done chan error
	err  error
	once sync.Once
}

func (r *localRequest) ID() int64 { return r.id }

func (r *localRequest) wait() error {
	r.once.Do(func() {
		r.err = <-r.done
	})
	return r.err
}

func (l *Local) PutVarNB(varID int, start, count []int64, data []byte) (backend.Request, error) {
	l.mu.Lock()
	if varID < 0 || varID >= len(l.vars) {
		l.mu.Unlock()
		return nil, &backend.NotFoundError{Kind: "variable", Name: fmt.Sprintf("#%d", varID)}
	}
	v := &l.vars[varID]
	id := atomic.AddInt64(&l.reqID, 1)
	atomic.AddInt64(&l.bufUse, int64(len(data)))
	l.mu.Unlock()

	req := &localRequest{id: id, done: make(chan error, 1)}
	j := &job{v: v, start: append([]int64(nil), start...), count: append([]int64(nil), count...), data: append([]byte(nil), data...)}
	j.done = make(chan error, 1)
	go func() {
		l.jobs <- j
		err := <-j.done
		atomic.AddInt64(&l.bufUse, -int64(len(data)))
		req.done <- err
	}()
	return req, nil
}

func (l *Local) WaitAll(reqs []backend.Request) error {
	var first error
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if err := r.(*localRequest).wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Local) GetVar(varID int, start, count []int64, buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if varID < 0 || varID >= len(l.vars) {
		return &backend.NotFoundError{Kind: "variable", Name: fmt.Sprintf("#%d", varID)}
	}
	v := &l.vars[varID]
	return l.readHyperslabLocked(v, start, count, buf)
}

// strides computes row-major byte strides for a variable's dimension
// shape, given the *fixed* sizes of every dimension after the first
// (only the first dimension may be unlimited).
func (l *Local) strides(v *varDef) []int64 {
	n := len(v.DimIDs)
	sizes := make([]int64, n)
	for i, id := range v.DimIDs {
		sizes[i] = l.dims[id].Size
	}
	elemSize := int64(v.VType.Size())
	if elemSize == 0 {
		elemSize = 1
	}
	strides := make([]int64, n)
	if n == 0 {
		return strides
	}
	strides[n-1] = elemSize
	for i := n - 2; i >= 0; i-- {
		sizes_i1 := sizes[i+1]
		if sizes_i1 < 0 {
			sizes_i1 = 0 // only dim 0 may be unlimited; defensive
		}
		strides[i] = strides[i+1] * sizes_i1
	}
	return strides
}

func (l *Local) writeHyperslab(v *varDef, start, count []int64, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeHyperslabLocked(v, start, count, data)
}

func (l *Local) writeHyperslabLocked(v *varDef, start, count []int64, data []byte) error {
	strides := l.strides(v)
	n := len(v.DimIDs)
	elemSize := int64(v.VType.Size())
	if elemSize == 0 {
		elemSize = 1
	}

	if n == 0 {
		if int64(len(v.Buf)) < elemSize {
			v.Buf = append(v.Buf, make([]byte, elemSize-int64(len(v.Buf)))...)
		}
		copy(v.Buf, data)
		return nil
	}

	required := start[0]*strides[0] + count[0]*strides[0]
	if int64(len(v.Buf)) < required {
		v.Buf = append(v.Buf, make([]byte, required-int64(len(v.Buf)))...)
	}

	copyHyperslab(data, v.Buf, strides, start, count, true)
	return nil
}

func (l *Local) readHyperslabLocked(v *varDef, start, count []int64, buf []byte) error {
	strides := l.strides(v)
	n := len(v.DimIDs)
	elemSize := int64(v.VType.Size())
	if elemSize == 0 {
		elemSize = 1
	}
	if n == 0 {
		copy(buf, v.Buf[:elemSize])
		return nil
	}
	copyHyperslab(buf, v.Buf, strides, start, count, false)
	return nil
}

// copyHyperslab walks an n-dimensional hyperslab in row-major order,
// copying between a contiguous caller-facing buffer (shaped exactly like
// `count`) and the variable's full-extent backing buffer (shaped like the
// variable's fixed dimensions, with the first dimension allowed to grow).
// toVar true copies contig -> varBuf (a write); false copies the other way
// (a read).
func copyHyperslab(contig, varBuf []byte, varStrides, start, count []int64, toVar bool) {
	n := len(count)
	elemSize := varStrides[n-1]

	contigStrides := make([]int64, n)
	contigStrides[n-1] = elemSize
	for i := n - 2; i >= 0; i-- {
		contigStrides[i] = contigStrides[i+1] * count[i+1]
	}

	idx := make([]int64, n)
	var rec func(d int)
	rec = func(d int) {
		if d == n {
			var varOff, contigOff int64
			for i := 0; i < n; i++ {
				varOff += (start[i] + idx[i]) * varStrides[i]
				contigOff += idx[i] * contigStrides[i]
			}
			if toVar {
				copy(varBuf[varOff:varOff+elemSize], contig[contigOff:contigOff+elemSize])
			} else {
				copy(contig[contigOff:contigOff+elemSize], varBuf[varOff:varOff+elemSize])
			}
			return
		}
		for i := int64(0); i < count[d]; i++ {
			idx[d] = i
			rec(d + 1)
		}
	}
	rec(0)
}

func os_ReadAll(f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(f)
	return buf.Bytes(), err
}
