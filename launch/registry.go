package launch

import (
	"sync"
	"sync/atomic"

	"github.com/capsulekit/capsule/loader"
)

// EntryPointFunc is an application's designated entry method. It receives
// the original argument vector verbatim and its error, if any, surfaces
// from Launch unmodified.
type EntryPointFunc func(args []string) error

var (
	entryMu     sync.RWMutex
	entryPoints = make(map[string]EntryPointFunc)
)

// Register makes an entry point resolvable by the name the manifest's
// Entry-Point attribute carries. It is intended to be called from package
// init of the application being launched. Registering a nil function or
// the same name twice panics.
func Register(name string, fn EntryPointFunc) {
	entryMu.Lock()
	defer entryMu.Unlock()
	if fn == nil {
		panic("launch: Register entry point is nil")
	}
	if _, dup := entryPoints[name]; dup {
		panic("launch: Register called twice for entry point " + name)
	}
	entryPoints[name] = fn
}

func lookupEntryPoint(name string) (EntryPointFunc, bool) {
	entryMu.RLock()
	defer entryMu.RUnlock()
	fn, ok := entryPoints[name]
	return fn, ok
}

// activeLoader is the process-wide resource loader slot. The orchestrator
// installs the constructed loader here before invoking the entry point, so
// application code loads its resources through the assembled classpath.
var activeLoader atomic.Pointer[loader.Loader]

// SetActive installs l as the process' active resource loader.
func SetActive(l *loader.Loader) {
	activeLoader.Store(l)
}

// Active returns the process' active resource loader, or nil before any
// launch reached the loader-ready state.
func Active() *loader.Loader {
	return activeLoader.Load()
}
