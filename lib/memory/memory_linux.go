package memory

import (
	"syscall"

	"github.com/hzjiangm/memtracker/lib/cgroup"
	"github.com/hzjiangm/memtracker/lib/logger"
)

func sysTotalMemory() int64 {
	var si syscall.Sysinfo_t
	if err := syscall.Sysinfo(&si); err != nil {
		logger.Panicf("FATAL: error in syscall.Sysinfo: %s", err)
	}
	totalMem := int64(si.Totalram) * int64(si.Unit)
	// The process may run inside a container with a memory limit
	// lower than the host memory size.
	mem := cgroup.GetMemoryLimit()
	if mem <= 0 || mem > totalMem {
		return totalMem
	}
	return mem
}
