// Package memory determines the amount of memory the process is allowed
// to attribute to tracked scopes.
package memory

import (
	"flag"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/hzjiangm/memtracker/lib/flagutil"
	"github.com/hzjiangm/memtracker/lib/formatutil"
	"github.com/hzjiangm/memtracker/lib/logger"
)

var (
	allowedPercent = flag.Float64("memory.allowedPercent", 60, "Allowed percent of system memory the root tracker may attribute before rejecting allocations. "+
		"It is ignored if -memory.allowedBytes is set to a non-zero value")
	allowedBytes = flagutil.NewBytes("memory.allowedBytes", 0, "Allowed size of system memory the root tracker may attribute before rejecting allocations. "+
		"It overrides -memory.allowedPercent if set to a non-zero value")
)

// Allowed returns the amount of memory in bytes the root tracker is allowed
// to attribute before rejecting allocations.
//
// Zero means "no limit". This matches the limit semantics of lib/memorytracker.
//
// It is determined from -memory.allowedBytes if set, otherwise from
// -memory.allowedPercent of the detected system memory. System memory
// detection is cgroup-aware on Linux.
func Allowed() int64 {
	allowedOnce.Do(initAllowed)
	return allowedMemory
}

var (
	allowedOnce   sync.Once
	allowedMemory int64
)

func initAllowed() {
	total := sysTotalMemory()
	allowedMemory = calcAllowed(total, *allowedPercent, allowedBytes.N)
	if allowedMemory == 0 {
		logger.Warnf("cannot determine the allowed memory size; the root tracker limit is disabled; set -memory.allowedBytes in order to enable it")
	} else {
		logger.Infof("allowed memory size: %s; system memory: %s", formatutil.HumanizeBytes(float64(allowedMemory)), formatutil.HumanizeBytes(float64(total)))
	}
	metrics.NewGauge(`memtracker_allowed_memory_bytes`, func() float64 {
		return float64(allowedMemory)
	})
}

func calcAllowed(totalMemory int64, percent float64, flagBytes int64) int64 {
	if flagBytes > 0 {
		return flagBytes
	}
	if totalMemory <= 0 {
		return 0
	}
	if percent <= 0 || percent > 100 {
		logger.Panicf("FATAL: -memory.allowedPercent must be in the range (0..100]; got %g", percent)
	}
	return int64(float64(totalMemory) * percent / 100)
}
