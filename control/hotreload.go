// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Process-wide hot-reload hooks, run asynchronously on a reload signal or
// synchronously on demand.

package control

import "sync"

var (
	hooksMu     sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a new component reload listener.
func RegisterReloadHook(fn func()) {
	hooksMu.Lock()
	reloadHooks = append(reloadHooks, fn)
	hooksMu.Unlock()
}

func hooks() []func() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return append([]func(){}, reloadHooks...)
}

// TriggerHotReload dispatches all reload hooks asynchronously.
func TriggerHotReload() {
	for _, fn := range hooks() {
		go fn()
	}
}

// TriggerHotReloadSync invokes all reload hooks in registration order and
// returns when the last one does.
func TriggerHotReloadSync() {
	for _, fn := range hooks() {
		fn()
	}
}
