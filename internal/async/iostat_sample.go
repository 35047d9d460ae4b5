package async

import (
	"github.com/lufia/iostat"

	"github.com/MPAS-Dev/smiol-go/internal/config"
	"github.com/MPAS-Dev/smiol-go/internal/nlog"
)

// sampleDriveStats is a best-effort debug aid: when LogLevel is Debug, the
// writer logs drive throughput before each backend put so a slow device can
// be spotted in logs without attaching a profiler. Failures here are
// swallowed - this is diagnostic only, never load-bearing: the
// buffer-pressure and completion logic never depends on it.
func sampleDriveStats(log *nlog.Logger, label string) {
	if log == nil || !log.FastV(config.LogDebug) {
		return
	}
	stats, err := iostat.ReadDriveStats()
	if err != nil {
		log.Debugf("%s: iostat sample unavailable: %v", label, err)
		return
	}
	for _, s := range stats {
		log.Debugf("%s: drive %s read=%dKB written=%dKB", label, s.Name, s.KBRead, s.KBWrtn)
	}
}
