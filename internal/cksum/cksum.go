// Package cksum provides the rolling checksum held on Context (and fed by
// each of its files' async writers),
// built on aistore's own checksum library choice (aistore uses
// OneOfOne/xxhash and cespare/xxhash interchangeably for object
// checksums; this module standardizes on OneOfOne/xxhash).
//
// These checksums are diagnostic only: comparing two runs' checksums is
// useful for tests exercising aggregation equivalence, but this package
// implements no recovery from a mismatch.
package cksum

import (
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// Rolling accumulates bytes across many calls in submission order and
// produces a single 64-bit digest. Safe for concurrent use by a single
// writer goroutine and concurrent readers of Sum.
type Rolling struct {
	mu sync.Mutex
	h  *xxhash.XXHash64
}

func NewRolling(seed uint64) *Rolling {
	return &Rolling{h: xxhash.NewS64(seed)}
}

func (r *Rolling) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.h.Write(p)
}

func (r *Rolling) Sum() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h.Sum64()
}

// SeedFrom derives a deterministic seed from a set of small integers
// (rank, numIOTasks, ioStride at Context.Init), seeding content hashes
// from identity rather than a random nonce, so re-running the same
// scenario is reproducible.
func SeedFrom(parts ...int64) uint64 {
	buf := make([]byte, 8*len(parts))
	for i, p := range parts {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(p))
	}
	return xxhash.Checksum64(buf)
}
