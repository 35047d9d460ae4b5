//go:build linux

package async

import (
	"golang.org/x/sys/unix"

	"github.com/MPAS-Dev/smiol-go/internal/nlog"
)

// pinToCores attempts to restrict the calling goroutine's underlying OS
// thread to cores, matching the writer thread's configured affinity.
// Failure is logged, never fatal: a misconfigured core list (e.g. one
// that doesn't exist on this machine) shouldn't stop the writer from
// doing its job, only from being scheduled where requested.
func pinToCores(log *nlog.Logger, cores []int) {
	if len(cores) == 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Debugf("writer: set cpu affinity %v: %v", cores, err)
	}
}
