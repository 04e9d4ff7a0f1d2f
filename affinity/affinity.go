// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"
)

// maxCPU bounds the CPU index accepted on every platform.
const maxCPU = 1024

// SetAffinity pins the current OS thread to a given logical CPU on supported
// platforms. The caller is expected to hold runtime.LockOSThread.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPU {
		return fmt.Errorf("affinity: cpu %d out of range [0,%d)", cpuID, maxCPU)
	}
	return setAffinityPlatform(cpuID)
}

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The returned func undoes the thread lock. An event loop goroutine
// calls it before Run.
func Pin(cpuID int) (func(), error) {
	runtime.LockOSThread()
	if err := SetAffinity(cpuID); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}
