// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import "runtime"

// SetAffinity locks the calling goroutine to its current OS thread and pins
// that thread to cpuID on supported platforms. On unsupported platforms
// returns an error. The lock is permanent for the calling goroutine's
// lifetime, matching Loop's single-thread-per-Loop model.
func SetAffinity(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}
