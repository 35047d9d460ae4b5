// Package objstore holds the catalog and wire-image logic shared by every
// remote-object-store Backend adapter (s3, azure, gcs, hdfs). Each adapter
// differs only in how it fetches/stores one opaque blob per file; the
// dimension/variable/attribute bookkeeping and hyperslab math that sits on
// top of that blob is identical across schemes, so it lives here once
// rather than once per adapter (see DESIGN.md: avoiding a fourth near-copy
// of internal/backend/local's catalog).
package objstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MPAS-Dev/smiol-go/internal/backend"
)

type DimDef struct {
	Name string
	Size int64
}

type VarDef struct {
	Name   string
	VType  backend.VarType
	DimIDs []int
	Buf    []byte
}

type AttKey struct {
	VarID int
	Name  string
}

type AttDef struct {
	VType backend.VarType
	Value []byte
}

// Image is the gob-encodable snapshot of a file's catalog, the same blob
// every adapter's Create/Open/Sync/Close round-trips through its object
// store's GET/PUT object calls.
type Image struct {
	Dims []DimDef
	Vars []VarDef
	Atts map[AttKey]AttDef
}

func Encode(img Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) (Image, error) {
	var img Image
	if len(data) == 0 {
		return Image{Atts: map[AttKey]AttDef{}}, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&img); err != nil {
		return Image{}, err
	}
	if img.Atts == nil {
		img.Atts = map[AttKey]AttDef{}
	}
	return img, nil
}

// Catalog is the define/inquire/data surface every remote adapter embeds.
// Unlike internal/backend/local, PutVarNB here completes synchronously
// under the lock and returns an already-signaled Request: remote object
// stores in this module have no genuine async write path of their own
// (buffering and backpressure is provided once, by internal/async, in
// front of every Backend); Catalog only needs to track BufferUse so that
// layer's AllreduceMax accounting has real numbers to reduce over.
type Catalog struct {
	mu   sync.Mutex
	Dims []DimDef
	Vars []VarDef
	Atts map[AttKey]AttDef

	bufCap int64
	bufUse int64
	reqID  int64
}

func NewCatalog() *Catalog {
	return &Catalog{Atts: map[AttKey]AttDef{}}
}

func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dims = nil
	c.Vars = nil
	c.Atts = map[AttKey]AttDef{}
}

func (c *Catalog) LoadImage(img Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dims = img.Dims
	c.Vars = img.Vars
	c.Atts = img.Atts
	if c.Atts == nil {
		c.Atts = map[AttKey]AttDef{}
	}
}

func (c *Catalog) Snapshot() Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Image{Dims: c.Dims, Vars: c.Vars, Atts: c.Atts}
}

func (c *Catalog) DefineDim(name string, size int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.Dims {
		if d.Name == name {
			return 0, &backend.AlreadyDefinedError{Kind: "dimension", Name: name}
		}
	}
	c.Dims = append(c.Dims, DimDef{Name: name, Size: size})
	return len(c.Dims) - 1, nil
}

func (c *Catalog) InquireDim(name string) (int, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.Dims {
		if d.Name == name {
			return i, d.Size, nil
		}
	}
	return 0, 0, &backend.NotFoundError{Kind: "dimension", Name: name}
}

func (c *Catalog) DefineVar(name string, vtype backend.VarType, dimIDs []int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.Vars {
		if v.Name == name {
			return 0, &backend.AlreadyDefinedError{Kind: "variable", Name: name}
		}
	}
	c.Vars = append(c.Vars, VarDef{Name: name, VType: vtype, DimIDs: append([]int(nil), dimIDs...)})
	return len(c.Vars) - 1, nil
}

func (c *Catalog) InquireVar(name string) (int, backend.VarType, []int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range c.Vars {
		if v.Name == name {
			return i, v.VType, append([]int(nil), v.DimIDs...), nil
		}
	}
	return 0, backend.Unknown, nil, &backend.NotFoundError{Kind: "variable", Name: name}
}

func (c *Catalog) DefineAtt(varID int, name string, vtype backend.VarType, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Atts[AttKey{VarID: varID, Name: name}] = AttDef{VType: vtype, Value: append([]byte(nil), value...)}
	return nil
}

func (c *Catalog) InquireAtt(varID int, name string) (backend.VarType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.Atts[AttKey{VarID: varID, Name: name}]
	if !ok {
		return backend.Unknown, nil, &backend.NotFoundError{Kind: "attribute", Name: name}
	}
	return a.VType, append([]byte(nil), a.Value...), nil
}

func (c *Catalog) AttachBuffer(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufCap = size
	return nil
}

func (c *Catalog) DetachBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufCap = 0
	return nil
}

func (c *Catalog) BufferUse() int64 { return atomic.LoadInt64(&c.bufUse) }

type syncRequest struct{ id int64 }

func (r *syncRequest) ID() int64 { return r.id }

func (c *Catalog) PutVarNB(varID int, start, count []int64, data []byte) (backend.Request, error) {
	c.mu.Lock()
	if varID < 0 || varID >= len(c.Vars) {
		c.mu.Unlock()
		return nil, &backend.NotFoundError{Kind: "variable", Name: fmt.Sprintf("#%d", varID)}
	}
	v := &c.Vars[varID]
	id := atomic.AddInt64(&c.reqID, 1)
	atomic.AddInt64(&c.bufUse, int64(len(data)))
	err := writeHyperslab(v, c.Dims, start, count, data)
	atomic.AddInt64(&c.bufUse, -int64(len(data)))
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &syncRequest{id: id}, nil
}

func (c *Catalog) WaitAll(reqs []backend.Request) error { return nil }

func (c *Catalog) GetVar(varID int, start, count []int64, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if varID < 0 || varID >= len(c.Vars) {
		return &backend.NotFoundError{Kind: "variable", Name: fmt.Sprintf("#%d", varID)}
	}
	v := &c.Vars[varID]
	return readHyperslab(v, c.Dims, start, count, buf)
}

// varStrides computes row-major byte strides over a variable's full fixed
// extent (only dim 0 may be unlimited), exactly as internal/backend/local
// does for its own in-memory buffer.
func varStrides(v *VarDef, dims []DimDef) []int64 {
	n := len(v.DimIDs)
	sizes := make([]int64, n)
	for i, id := range v.DimIDs {
		sizes[i] = dims[id].Size
	}
	elemSize := int64(v.VType.Size())
	if elemSize == 0 {
		elemSize = 1
	}
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	out[n-1] = elemSize
	for i := n - 2; i >= 0; i-- {
		s := sizes[i+1]
		if s < 0 {
			s = 0
		}
		out[i] = out[i+1] * s
	}
	return out
}

func writeHyperslab(v *VarDef, dims []DimDef, start, count []int64, data []byte) error {
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
	strides := varStrides(v, dims)
	required := (start[0] + count[0]) * strides[0]
	if int64(len(v.Buf)) < required {
		v.Buf = append(v.Buf, make([]byte, required-int64(len(v.Buf)))...)
	}
	copyHyperslab(data, v.Buf, strides, start, count, true)
	return nil
}

func readHyperslab(v *VarDef, dims []DimDef, start, count []int64, buf []byte) error {
	n := len(v.DimIDs)
	elemSize := int64(v.VType.Size())
	if elemSize == 0 {
		elemSize = 1
	}
	if n == 0 {
		end := elemSize
		if int64(len(v.Buf)) < end {
			end = int64(len(v.Buf))
		}
		copy(buf, v.Buf[:end])
		return nil
	}
	strides := varStrides(v, dims)
	copyHyperslab(buf, v.Buf, strides, start, count, false)
	return nil
}

// copyHyperslab walks an n-dimensional hyperslab in row-major order,
// copying between a contiguous caller-facing buffer (shaped like `count`)
// and the variable's full-extent backing buffer (shaped by varStrides,
// offset by `start`). toVar true copies contig -> varBuf (a write); false
// copies the other way (a read). Mirrors internal/backend/local's
// copyHyperslab.
func copyHyperslab(contig, varBuf []byte, varStrides, start, count []int64, toVar bool) {
	n := len(count)
	if n == 0 {
		return
	}
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
