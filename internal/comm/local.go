package comm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MPAS-Dev/smiol-go/internal/xerrors"
)

// mailbox is a single member's inbox for point-to-point messages within
// one Local communicator's namespace.
type mailbox struct {
	mu   sync.Mutex
	cond *sync.Cond
	msgs []wireMsg
}

type wireMsg struct {
	src, tag int
	data     []byte
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) deliver(msg wireMsg) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) take(src, tag int, buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		for i, msg := range m.msgs {
			if msg.src == src && msg.tag == tag {
				n := copy(buf, msg.data)
				m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)
				return n
			}
		}
		m.cond.Wait()
	}
}

// namespace is the shared state behind one communicator "instance": the
// rendezvous group for collectives plus one mailbox per member, shared by
// every rank's Local value that was handed out together from the same
// Dup/Split/NewWorld call.
type namespace struct {
	members  []int // world ranks, in this communicator's rank order
	grp      *group
	mailboxes []*mailbox

	mu       sync.Mutex
	splitSeq int
	dupSeq   int
}

// Local is the in-process reference Communicator.
type Local struct {
	ns         *namespace
	myRank     int // index into ns.members / ns.mailboxes
	myWorldRank int
}

// NewWorld builds a fresh universe of n simulated ranks and returns one
// Communicator per rank, analogous to MPI_COMM_WORLD.
func NewWorld(n int) []Communicator {
	ns := &namespace{
		members:   make([]int, n),
		grp:       newGroup(n),
		mailboxes: make([]*mailbox, n),
	}
	for i := 0; i < n; i++ {
		ns.members[i] = i
		ns.mailboxes[i] = newMailbox()
	}
	out := make([]Communicator, n)
	for i := 0; i < n; i++ {
		out[i] = &Local{ns: ns, myRank: i, myWorldRank: i}
	}
	return out
}

func (c *Local) Rank() int { return c.myRank }
func (c *Local) Size() int { return len(c.ns.members) }

func (c *Local) Dup() (Communicator, error) {
	res := c.ns.grp.rendezvous(c.myRank, nil, func([]any) any {
		c.ns.mu.Lock()
		seq := c.ns.dupSeq
		c.ns.dupSeq++
		c.ns.mu.Unlock()
		n := len(c.ns.members)
		dup := &namespace{
			members:   append([]int(nil), c.ns.members...),
			grp:       newGroup(n),
			mailboxes: make([]*mailbox, n),
		}
		for i := range dup.mailboxes {
			dup.mailboxes[i] = newMailbox()
		}
		_ = seq
		return dup
	})
	dup := res.(*namespace)
	return &Local{ns: dup, myRank: c.myRank, myWorldRank: c.myWorldRank}, nil
}

type splitContribution struct {
	worldRank int
	color     int
	key       int
}

func (c *Local) Split(color, key int) (Communicator, error) {
	contrib := splitContribution{worldRank: c.myWorldRank, color: color, key: key}
	res := c.ns.grp.rendezvous(c.myRank, contrib, func(all []any) any {
		byColor := map[int][]splitContribution{}
		for _, a := range all {
			sc := a.(splitContribution)
			if sc.color < 0 {
				continue
			}
			byColor[sc.color] = append(byColor[sc.color], sc)
		}
		groups := map[int]*namespace{}
		for color, members := range byColor {
			sort.Slice(members, func(i, j int) bool {
				if members[i].key != members[j].key {
					return members[i].key < members[j].key
				}
				return members[i].worldRank < members[j].worldRank
			})
			n := len(members)
			ns := &namespace{
				members:   make([]int, n),
				grp:       newGroup(n),
				mailboxes: make([]*mailbox, n),
			}
			for i, m := range members {
				ns.members[i] = m.worldRank
				ns.mailboxes[i] = newMailbox()
			}
			groups[color] = ns
		}
		return groups
	})
	groups := res.(map[int]*namespace)
	if color < 0 {
		return nil, xerrors.New(xerrors.InvalidArgument, "rank excluded from split (color < 0)")
	}
	ns := groups[color]
	myRank := -1
	for i, wr := range ns.members {
		if wr == c.myWorldRank {
			myRank = i
			break
		}
	}
	if myRank < 0 {
		return nil, xerrors.New(xerrors.MessagingError, "split: rank not found in its own group")
	}
	return &Local{ns: ns, myRank: myRank, myWorldRank: c.myWorldRank}, nil
}

func (c *Local) Free() error { return nil }

func (c *Local) ISend(dst, tag int, data []byte) (Request, error) {
	if dst < 0 || dst >= len(c.ns.mailboxes) {
		return nil, invalidf("ISend: destination %d out of range", dst)
	}
	cp := append([]byte(nil), data...)
	c.ns.mailboxes[dst].deliver(wireMsg{src: c.myRank, tag: tag, data: cp})
	return doneRequest{}, nil
}

func (c *Local) IRecv(src, tag int, buf []byte) (Request, error) {
	if src < 0 || src >= len(c.ns.mailboxes) {
		return nil, invalidf("IRecv: source %d out of range", src)
	}
	box := c.ns.mailboxes[c.myRank]
	done := make(chan error, 1)
	go func() {
		box.take(src, tag, buf)
		done <- nil
	}()
	return &asyncRequest{done: done}, nil
}

type asyncRequest struct{ done chan error }

func (r *asyncRequest) Wait() error { return <-r.done }

func (c *Local) Bcast(root int, data []byte) ([]byte, error) {
	res := c.ns.grp.rendezvous(c.myRank, data, func(all []any) any {
		v := all[root]
		if v == nil {
			return []byte(nil)
		}
		return v.([]byte)
	})
	if res == nil {
		return nil, nil
	}
	return res.([]byte), nil
}

func (c *Local) AllreduceSum(in int64) (int64, error) {
	res := c.ns.grp.rendezvous(c.myRank, in, func(all []any) any {
		var sum int64
		for _, v := range all {
			sum += v.(int64)
		}
		return sum
	})
	return res.(int64), nil
}

func (c *Local) AllreduceMax(in int64) (int64, error) {
	res := c.ns.grp.rendezvous(c.myRank, in, func(all []any) any {
		max := all[0].(int64)
		for _, v := range all[1:] {
			if n := v.(int64); n > max {
				max = n
			}
		}
		return max
	})
	return res.(int64), nil
}

func (c *Local) Gatherv(root int, data []byte) ([][]byte, error) {
	res := c.ns.grp.rendezvous(c.myRank, data, func(all []any) any {
		out := make([][]byte, len(all))
		for i, v := range all {
			if v != nil {
				out[i] = v.([]byte)
			}
		}
		return out
	})
	_ = root
	return res.([][]byte), nil
}

func (c *Local) Scatterv(root int, data [][]byte) ([]byte, error) {
	type contrib struct {
		isRoot bool
		data   [][]byte
	}
	res := c.ns.grp.rendezvous(c.myRank, contrib{isRoot: c.myRank == root, data: data}, func(all []any) any {
		for _, v := range all {
			ct := v.(contrib)
			if ct.isRoot {
				return ct.data
			}
		}
		return nil
	})
	shares, _ := res.([][]byte)
	if shares == nil || c.myRank >= len(shares) {
		return nil, nil
	}
	return shares[c.myRank], nil
}

func (c *Local) Alltoallv(sendTo map[int][]byte) (map[int][]byte, error) {
	res := c.ns.grp.rendezvous(c.myRank, sendTo, func(all []any) any {
		recv := make([]map[int][]byte, len(all))
		for i := range recv {
			recv[i] = map[int][]byte{}
		}
		for src, v := range all {
			m := v.(map[int][]byte)
			for dst, data := range m {
				recv[dst][src] = data
			}
		}
		return recv
	})
	recv := res.([]map[int][]byte)
	return recv[c.myRank], nil
}

func (c *Local) Barrier() error {
	c.ns.grp.rendezvous(c.myRank, nil, func([]any) any { return nil })
	return nil
}

func (c *Local) String() string {
	return fmt.Sprintf("Local(rank=%d/%d)", c.myRank, len(c.ns.members))
}
