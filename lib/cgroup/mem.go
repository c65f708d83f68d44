// Package cgroup provides access to memory limits configured for the current process via cgroups.
package cgroup

import (
	"os"
	"strconv"
	"strings"
)

// GetMemoryLimit returns cgroup memory limit for the current process.
//
// Zero is returned if the limit cannot be determined or isn't set.
func GetMemoryLimit() int64 {
	// Try cgroup v1 limit.
	// See https://www.kernel.org/doc/Documentation/cgroup-v1/memory.txt
	n, err := readInt64("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err == nil {
		return n
	}
	// Fall back to cgroup v2 limit.
	// See https://www.kernel.org/doc/html/latest/admin-guide/cgroup-v2.html#memory-interface-files
	n, err = readInt64("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0
	}
	return n
}

func readInt64(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		// No limit is set in cgroup v2.
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
