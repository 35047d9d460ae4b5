package comm

import "sync"

// group is the generic collective-rendezvous primitive every Communicator
// method (collective or point-to-point setup) is built on: every member of
// a group contributes a value and blocks until all members have arrived,
// at which point a finalize function computes a single result from all
// contributions and that same result is handed back to every member.
// Every collective call on a communicator must be entered by every
// member, in the same order, so a plain generational barrier is
// sufficient: members are never allowed to race ahead to a different op.
type group struct {
	size int

	mu  sync.Mutex
	cur *generation
}

type generation struct {
	contributions []*sentinel
	done          chan struct{}
	result        any
}

// sentinel distinguishes "rank has arrived with a nil payload" (e.g. a
// non-leader's zero-length Gatherv contribution) from "rank has not yet
// arrived" (an untouched nil slice entry).
type sentinel struct{ v any }

func newGroup(size int) *group {
	return &group{
		size: size,
		cur:  &generation{contributions: make([]*sentinel, size), done: make(chan struct{})},
	}
}

// rendezvous blocks until `size` distinct ranks have called it on this
// group for the current generation, then returns finalize's output to
// every caller. finalize is invoked exactly once, by whichever goroutine
// happens to be the last arrival; it receives each rank's raw contribution
// in rank order.
func (g *group) rendezvous(rank int, contribution any, finalize func([]any) any) any {
	g.mu.Lock()
	rec := g.cur
	rec.contributions[rank] = &sentinel{v: contribution}

	last := true
	for _, c := range rec.contributions {
		if c == nil {
			last = false
			break
		}
	}
	if last {
		g.cur = &generation{contributions: make([]*sentinel, g.size), done: make(chan struct{})}
	}
	g.mu.Unlock()

	if !last {
		<-rec.done
		return rec.result
	}

	raw := make([]any, g.size)
	for i, s := range rec.contributions {
		raw[i] = s.v
	}
	rec.result = finalize(raw)
	close(rec.done)
	return rec.result
}
