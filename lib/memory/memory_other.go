//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd

package memory

// System memory detection isn't implemented on this platform.
// Allowed() falls back to -memory.allowedBytes.
func sysTotalMemory() int64 {
	return 0
}
