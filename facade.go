package smiol

import (
	"github.com/MPAS-Dev/smiol-go/internal/backend"
	"github.com/MPAS-Dev/smiol-go/internal/decomp"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// deriveStartCount resolves start[], count[] and the opaque per-element
// byte size for a put_var/get_var call against a variable's dimension
// list.
//
//   - If the slowest-varying dimension is the unlimited dimension,
//     start[0] = current frame, count[0] = 1.
//   - If a decomp is supplied, the next (slowest non-record) dimension is
//     the decomposed one: start = decomp.io_start, count = decomp.io_count.
//   - Otherwise, on write, only rank 0 emits a non-zero count for that
//     dimension (every other rank emits a zero count for it, so its
//     hyperslab is empty); on read, every rank reads the full extent.
//   - Any remaining inner dimensions are folded into the element size.
func (f *File) deriveStartCount(dimIDs []int, vtype backend.VarType, d *Decomp, forWrite bool) (start, count []int64, elemSize int, err error) {
	n := len(dimIDs)
	sizes := make([]int64, n)
	for i, id := range dimIDs {
		sz, ok := f.meta.InquireDimByID(id)
		if !ok {
			return nil, nil, 0, xerrors.New(xerrors.InvalidArgument, "put_var/get_var: dimension id not resolvable from cache")
		}
		sizes[i] = sz
	}

	start = make([]int64, n)
	count = make([]int64, n)
	pos := 0
	if n > 0 && sizes[0] < 0 {
		start[0] = f.meta.GetFrame()
		count[0] = 1
		pos = 1
	}

	switch {
	case d != nil:
		if pos >= n {
			return nil, nil, 0, xerrors.New(xerrors.InvalidArgument, "put_var/get_var: decomp supplied but variable has no non-record dimension")
		}
		start[pos] = d.IOStart()
		count[pos] = d.IOCount()
		pos++
	case pos < n:
		if forWrite && f.ctx.rank != 0 {
			start[pos] = 0
			count[pos] = 0
		} else {
			start[pos] = 0
			count[pos] = sizes[pos]
		}
		pos++
	}

	elemSize = vtype.Size()
	for i := pos; i < n; i++ {
		start[i] = 0
		count[i] = sizes[i]
		elemSize *= int(sizes[i])
	}
	return start, count, elemSize, nil
}

func transferTag(varID int, frame int64) int {
	return varID<<20 ^ int(frame&0xfffff)
}

// PutVar implements put_var: if decomp is non-nil, it redistributes buf
// (optionally through the aggregator) from this rank's compute-side
// layout into the owning I/O rank's I/O-range buffer, then enqueues the
// result on that I/O rank's async writer. Errors from prior async
// operations on this file surface here and on sync_file/close_file.
func PutVar(f *File, varName string, d *Decomp, buf []byte) error {
	if err := f.checkValid(); err != nil {
		return err
	}
	varID, vtype, dimIDs, err := f.meta.InquireVar(varName)
	if err != nil {
		return err
	}
	start, count, elemSize, err := f.deriveStartCount(dimIDs, vtype, d, true)
	if err != nil {
		return err
	}

	var ioBuf []byte
	if d != nil {
		src := buf
		if d.inner.Agg != nil {
			gathered, err := decomp.AggregateGather(d.inner, elemSize, buf)
			if err != nil {
				return err
			}
			src = gathered
		}
		ioLen := int64(0)
		if f.isIOTask {
			ioLen = d.inner.IOCount * int64(elemSize)
		}
		ioBuf = make([]byte, ioLen)
		tag := transferTag(varID, f.meta.GetFrame())
		if err := decomp.Transfer(f.ctx.world, d.inner, decomp.CompToIO, tag, elemSize, src, ioBuf); err != nil {
			return err
		}
	} else {
		ioBuf = buf
	}

	if err := f.meta.EnsureData(); err != nil {
		return err
	}

	if f.isIOTask {
		if f.writer == nil {
			return xerrors.New(xerrors.InvalidArgument, "put_var: file is not open for write")
		}
		f.writer.Enqueue(varID, start, count, ioBuf)
		if err := f.writer.FlushIfPressured(); err != nil {
			return err
		}
	}
	return nil
}

// GetVar implements get_var: joins the writer (so the read observes
// every prior write on this file), issues a collective blocking
// backend read on the owning I/O rank, then redistributes IO→COMP
// (optionally through the aggregator's scatter half). A non-decomposed
// read is satisfied by the I/O task reading the full record once and
// broadcasting it to its non-I/O followers.
func GetVar(f *File, varName string, d *Decomp, buf []byte) error {
	if err := f.checkValid(); err != nil {
		return err
	}
	if f.writer != nil {
		if err := f.writer.Join(); err != nil {
			return err
		}
	}
	varID, vtype, dimIDs, err := f.meta.InquireVar(varName)
	if err != nil {
		return err
	}
	start, count, elemSize, err := f.deriveStartCount(dimIDs, vtype, d, false)
	if err != nil {
		return err
	}

	var ioBuf []byte
	if f.isIOTask {
		n := int64(1)
		for _, c := range count {
			n *= c
		}
		ioBuf = make([]byte, n*int64(vtype.Size()))
		if err := f.be.GetVar(varID, start, count, ioBuf); err != nil {
			return xerrors.Wrap(xerrors.LibraryError, err)
		}
	}

	if d == nil {
		// Every rank in the group enters this collective, the I/O task
		// acting as root: followers have no backend handle of their own,
		// so the only way they see the record is this fan-out, the same
		// group.Bcast idiom meta.collectiveIO uses to mirror a backend
		// result across non-I/O ranks.
		res, err := f.groupComm.Bcast(0, ioBuf)
		if err != nil {
			return xerrors.Wrap(xerrors.MessagingError, err)
		}
		copy(buf, res)
		return nil
	}

	dst := buf
	if d.inner.Agg != nil && d.inner.Agg.IsLeader {
		dst = make([]byte, int(d.inner.Agg.NComputeAgg)*elemSize)
	}
	tag := transferTag(varID, f.meta.GetFrame())
	if err := decomp.Transfer(f.ctx.world, d.inner, decomp.IOToComp, tag, elemSize, ioBuf, dst); err != nil {
		return err
	}
	if d.inner.Agg != nil {
		share, err := decomp.AggregateScatter(d.inner, elemSize, dst)
		if err != nil {
			return err
		}
		copy(buf, share)
	}
	return nil
}
