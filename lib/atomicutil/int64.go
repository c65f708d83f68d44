package atomicutil

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is the size of a CPU cache line on the target platform.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})

// Int64 is like atomic.Int64, but is protected from false sharing.
//
// Use it for counters updated at high frequency from concurrent goroutines,
// such as per-scope memory usage.
type Int64 struct {
	// The padding prevents false sharing with the previous memory location on widespread platforms with cache line size >= 128.
	_ [128]byte

	atomic.Int64

	// The padding prevents false sharing with the next memory location on widespread platforms with cache line size >= 128.
	_ [128]byte
}
