package memory

import (
	"golang.org/x/sys/unix"

	"github.com/hzjiangm/memtracker/lib/logger"
)

func sysTotalMemory() int64 {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		logger.Panicf("FATAL: cannot determine system memory: %s", err)
	}
	return int64(mem)
}
