//go:build !linux

package async

import "github.com/MPAS-Dev/smiol-go/internal/nlog"

// pinToCores is a no-op outside Linux: SchedSetaffinity has no portable
// equivalent, and core pinning is a throughput tweak, not a correctness
// requirement.
func pinToCores(log *nlog.Logger, cores []int) {
	if len(cores) > 0 {
		log.Debugf("writer: cpu affinity pinning is not supported on this platform")
	}
}
