package decomp

import (
	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// aggregate splits comm into sub-groups of aggFactor consecutive ranks and
// gathers each sub-group's compute ids onto its leader. It returns the
// AggInfo to store on the Decomp plus the "effective" compute id list
// this rank should contribute to the plan exchange (the concatenated
// sub-group list on the leader, empty elsewhere).
func aggregate(c comm.Communicator, aggFactor int, ids []int64) (*AggInfo, []int64, error) {
	color := c.Rank() / aggFactor
	key := c.Rank()
	sub, err := c.Split(color, key)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	payload := encodeInt64s(ids)
	gathered, err := sub.Gatherv(0, payload)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	isLeader := sub.Rank() == 0
	agg := &AggInfo{
		Sub:      sub,
		NCompute: int64(len(ids)),
		IsLeader: isLeader,
	}
	if !isLeader {
		return agg, nil, nil
	}

	counts := make([]int, len(gathered))
	displs := make([]int, len(gathered))
	var effective []int64
	offset := 0
	for i, g := range gathered {
		vals := decodeInt64s(g)
		counts[i] = len(vals)
		displs[i] = offset
		offset += len(vals)
		effective = append(effective, vals...)
	}
	agg.Counts = counts
	agg.Displs = displs
	agg.NComputeAgg = int64(len(effective))
	return agg, effective, nil
}

func encodeInt64s(vals []int64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		copy(b[i*8:], encodeInt64(v))
	}
	return b
}
