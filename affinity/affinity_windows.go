//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var procSetThreadAffinityMask = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadAffinityMask")

func setAffinityPlatform(cpuID int) error {
	thread, err := windows.GetCurrentThread()
	if err != nil {
		return fmt.Errorf("affinity: GetCurrentThread: %w", err)
	}
	ret, _, err := procSetThreadAffinityMask.Call(uintptr(thread), uintptr(1)<<cpuID)
	if ret == 0 {
		return fmt.Errorf("affinity: SetThreadAffinityMask: %w", err)
	}
	return nil
}
