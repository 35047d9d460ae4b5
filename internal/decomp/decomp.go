// Package decomp builds and applies the exchange plan between a compute
// decomposition (per-rank lists of global element ids) and an I/O
// decomposition (contiguous per-I/O-rank ranges), plus the optional
// aggregation stage that collapses small compute partitions onto
// sub-group leaders before the exchange.
package decomp

import (
	"encoding/binary"
	"sort"

	"github.com/seiflotfy/cuckoofilter"

	"github.com/MPAS-Dev/smiol-go/internal/comm"
	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// Group is one (peer, elements) entry in a comp_list or io_list.
type Group struct {
	Peer int
	Idx  []int64
}

// AggInfo holds the aggregation-specific fields, present only when
// aggregation was requested at Create time.
type AggInfo struct {
	Sub         comm.Communicator
	NCompute    int64
	NComputeAgg int64 // nonzero only on sub-group leaders
	Counts      []int
	Displs      []int
	IsLeader    bool
}

// Decomp is the exchange plan: comp_list describes this rank's role as a
// compute rank, io_list its role as an I/O rank (every rank has both,
// though one side is typically empty for non-I/O ranks).
type Decomp struct {
	N       int64
	IOStart int64
	IOCount int64

	CompList []Group
	IOList   []Group

	Agg *AggInfo
}

// CreateParams is everything create_decomp needs that would otherwise come
// from a Context: kept as a plain struct here so this package has no
// dependency on the root package (which depends on this one).
type CreateParams struct {
	Comm       comm.Communicator // the full context communicator
	IsIOTask   bool
	NumIOTasks int
	IOStride   int
	AggFactor  int // 0 or 1 disables aggregation
	NCompute   int64
	ComputeIDs []int64
	Debug      bool
}

// ioRankRange returns the [start, start+count) range owned by the io-task
// whose 0-based position among I/O tasks is ioIdx, given N elements spread
// as evenly as possible with the first N%numIOTasks tasks getting one
// extra element. This is a pure function of (N, numIOTasks, ioIdx): every
// rank can compute it for every io-task without further communication.
func ioRankRange(n int64, numIOTasks, ioIdx int) (start, count int64) {
	share := n / int64(numIOTasks)
	rem := n % int64(numIOTasks)
	if int64(ioIdx) < rem {
		count = share + 1
		start = int64(ioIdx) * count
	} else {
		count = share
		start = rem*(share+1) + (int64(ioIdx)-rem)*share
	}
	return start, count
}

// ioOwnerOf returns the 0-based io-task index owning global element g.
func ioOwnerOf(g, n int64, numIOTasks int) int {
	share := n / int64(numIOTasks)
	rem := n % int64(numIOTasks)
	boundary := rem * (share + 1)
	if g < boundary {
		return int(g / (share + 1))
	}
	return int(rem + (g-boundary)/share)
}

// worldRankOfIOIdx maps a 0-based io-task index back to its world rank.
func worldRankOfIOIdx(ioIdx, ioStride int) int { return ioIdx * ioStride }

// Create builds the exchange plan symmetrically on every rank.
func Create(p CreateParams) (*Decomp, error) {
	if p.Comm == nil {
		return nil, xerrors.New(xerrors.InvalidArgument, "create_decomp: nil communicator")
	}
	if p.NumIOTasks <= 0 || p.IOStride <= 0 {
		return nil, xerrors.New(xerrors.InvalidArgument, "create_decomp: num_io_tasks and io_stride must be positive")
	}
	if err := checkNoDuplicates(p.ComputeIDs); err != nil {
		return nil, err
	}

	n, err := p.Comm.AllreduceSum(p.NCompute)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	d := &Decomp{N: n}

	ioIdx := p.Comm.Rank() / p.IOStride
	if p.IsIOTask {
		d.IOStart, d.IOCount = ioRankRange(n, p.NumIOTasks, ioIdx)
	}

	effectiveIDs := p.ComputeIDs
	if p.AggFactor > 1 {
		agg, aggIDs, err := aggregate(p.Comm, p.AggFactor, p.ComputeIDs)
		if err != nil {
			return nil, err
		}
		d.Agg = agg
		effectiveIDs = aggIDs
	}

	compBuckets := map[int][]int64{}  // io-task world rank -> local indices (this rank's comp_list)
	sendToIO := map[int][]byte{}      // io-task world rank -> encoded global ids
	for idx, g := range effectiveIDs {
		ioIdx := ioOwnerOf(g, n, p.NumIOTasks)
		ioWorldRank := worldRankOfIOIdx(ioIdx, p.IOStride)
		compBuckets[ioWorldRank] = append(compBuckets[ioWorldRank], int64(idx))
		sendToIO[ioWorldRank] = append(sendToIO[ioWorldRank], encodeInt64(g))
	}
	d.CompList = groupsFromBuckets(compBuckets)

	recv, err := p.Comm.Alltoallv(sendToIO)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.MessagingError, err)
	}

	if p.IsIOTask {
		ioBuckets := map[int][]int64{} // origin compute (or leader) world rank -> io-range offsets
		for src, payload := range recv {
			ids := decodeInt64s(payload)
			for _, g := range ids {
				ioBuckets[src] = append(ioBuckets[src], g-d.IOStart)
			}
		}
		d.IOList = groupsFromBuckets(ioBuckets)
	}

	if p.Debug {
		if err := verifyInvariant(p.Comm, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Free releases the decomp's aggregation sub-communicator, if any; called
// by free_decomp when tearing down the plan.
func (d *Decomp) Free() error {
	if d != nil && d.Agg != nil && d.Agg.Sub != nil {
		return d.Agg.Sub.Free()
	}
	return nil
}

func groupsFromBuckets(buckets map[int][]int64) []Group {
	peers := make([]int, 0, len(buckets))
	for peer := range buckets {
		peers = append(peers, peer)
	}
	sort.Ints(peers)
	groups := make([]Group, 0, len(peers))
	for _, peer := range peers {
		idx := buckets[peer]
		sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
		groups = append(groups, Group{Peer: peer, Idx: idx})
	}
	return groups
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64s(b []byte) []int64 {
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return out
}

// checkNoDuplicates enforces the debug invariant that no compute element
// ID is repeated within a rank: a cuckoo filter gives a fast
// probabilistic pre-check before the authoritative sort-based pass,
// mirroring aistore's use of the same structure for approximate
// membership ahead of a precise fallback.
func checkNoDuplicates(ids []int64) error {
	if len(ids) < 2 {
		return nil
	}
	filter := cuckoo.NewFilter(uint(len(ids) * 2))
	suspect := false
	for _, id := range ids {
		b := encodeInt64(id)
		if !filter.InsertUnique(b) {
			suspect = true
			break
		}
	}
	if !suspect {
		return nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return xerrors.New(xerrors.InvalidArgument, "create_decomp: duplicate compute element id within rank")
		}
	}
	return nil
}

// verifyInvariant is a debug-mode check that total io_count across io
// ranks equals N and that the total number of elements sent across all
// comp_lists equals the total received across all io_lists. Counts are
// compared only as global totals, not peer by peer.
func verifyInvariant(c comm.Communicator, d *Decomp) error {
	totalIOCount, err := c.AllreduceSum(d.IOCount)
	if err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}
	if totalIOCount != d.N {
		return xerrors.New(xerrors.InvalidArgument, "create_decomp: sum(io_count) != N")
	}
	var sent, received int64
	for _, g := range d.CompList {
		sent += int64(len(g.Idx))
	}
	for _, g := range d.IOList {
		received += int64(len(g.Idx))
	}
	totalSent, err := c.AllreduceSum(sent)
	if err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}
	totalReceived, err := c.AllreduceSum(received)
	if err != nil {
		return xerrors.Wrap(xerrors.MessagingError, err)
	}
	if totalSent != totalReceived {
		return xerrors.New(xerrors.InvalidArgument, "create_decomp: total sent != total received")
	}
	return nil
}
