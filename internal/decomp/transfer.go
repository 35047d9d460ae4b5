package decomp

import (
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// Direction selects which side of the plan is the sender.
type Direction int

const (
	CompToIO Direction = iota
	IOToComp
)

// Transfer executes an exchange plan in the given direction, moving
// elemSize-byte elements between a compute-side buffer and an I/O-side
// buffer. tag identifies this specific transfer call so
// concurrent transfers for different variables/frames on the same
// communicator never cross-match; callers derive it deterministically
// (e.g. from variable id and frame) so every participating rank agrees on
// the same value without further coordination.
func Transfer(c comm.Communicator, d *Decomp, dir Direction, tag int, elemSize int, in, out []byte) error {
	var sendGroups, recvGroups []Group
	switch dir {
	case CompToIO:
		sendGroups, recvGroups = d.CompList, d.IOList
	case IOToComp:
		sendGroups, recvGroups = d.IOList, d.CompList
	default:
		return xerrors.New(xerrors.InvalidArgument, "transfer_field: unknown direction")
	}

	var reqs []comm.Request
	recvBufs := make([][]byte, len(recvGroups))
	for i, g := range recvGroups {
		buf := make([]byte, len(g.Idx)*elemSize)
		recvBufs[i] = buf
		req, err := c.IRecv(g.Peer, tag, buf)
		if err != nil {
			return xerrors.Wrap(xerrors.MessagingError, err)
		}
		reqs = append(reqs, req)
	}
	for _, g := range sendGroups {
		data := gather(in, g.Idx, elemSize)
		req, err := c.ISend(g.Peer, tag, data)
		if err != nil {
			return xerrors.Wrap(xerrors.MessagingError, err)
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}

	for i, g := range recvGroups {
		scatter(out, g.Idx, elemSize, recvBufs[i])
	}
	return nil
}

func gather(in []byte, idx []int64, elemSize int) []byte {
	out := make([]byte, len(idx)*elemSize)
	for i, pos := range idx {
		copy(out[i*elemSize:(i+1)*elemSize], in[int(pos)*elemSize:int(pos)*elemSize+elemSize])
	}
	return out
}

func scatter(out []byte, idx []int64, elemSize int, data []byte) {
	for i, pos := range idx {
		copy(out[int(pos)*elemSize:int(pos)*elemSize+elemSize], data[i*elemSize:(i+1)*elemSize])
	}
}

// AggregateGather performs the write-path half of the aggregator: gatherv
// n_compute elements from every sub-group member onto the leader's
// aggregated buffer. Non-leaders return nil.
func AggregateGather(d *Decomp, elemSize int, callerBuf []byte) ([]byte, error) {
	if d.Agg == nil {
		return callerBuf, nil
	}
	gathered, err := d.Agg.Sub.Gatherv(0, callerBuf)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}
	if !d.Agg.IsLeader {
		return nil, nil
	}
	out := make([]byte, int(d.Agg.NComputeAgg)*elemSize)
	for i, seg := range gathered {
		off := d.Agg.Displs[i] * elemSize
		copy(out[off:off+len(seg)], seg)
	}
	return out, nil
}

// AggregateScatter performs the read-path half of the aggregator: scatters
// the leader's aggregated buffer back out to each sub-group member's
// caller buffer.
func AggregateScatter(d *Decomp, elemSize int, aggBuf []byte) ([]byte, error) {
	if d.Agg == nil {
		return aggBuf, nil
	}
	var parts [][]byte
	if d.Agg.IsLeader {
		parts = make([][]byte, len(d.Agg.Counts))
		for i, cnt := range d.Agg.Counts {
			off := d.Agg.Displs[i] * elemSize
			parts[i] = aggBuf[off : off+cnt*elemSize]
		}
	}
	share, err := d.Agg.Sub.Scatterv(0, parts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}
	return share, nil
}
