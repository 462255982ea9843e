// Package resource is the process-wide resource-resolution mechanism: a
// registry mapping address schemes to openers. Protocol implementations
// register themselves once at bootstrap; registration state lives for the
// life of the process and is torn down only at exit.
package resource

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Opener resolves the scheme-specific remainder of an address to a stream.
type Opener func(rest string) (io.ReadCloser, error)

var (
	mu      sync.RWMutex
	schemes = map[string]Opener{
		"file": func(rest string) (io.ReadCloser, error) { return os.Open(rest) },
	}
)

// Register installs an opener for scheme. A scheme can be registered only
// once; installers that may run from several bootstrap paths guard their
// own claim (see nested.Install).
func Register(scheme string, open Opener) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := schemes[scheme]; exists {
		return fmt.Errorf("resource: scheme %q already registered", scheme)
	}
	schemes[scheme] = open
	return nil
}

// Open resolves an address of the form "scheme:rest" through the
// registered opener for its scheme.
func Open(addr string) (io.ReadCloser, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("resource: address %q has no scheme", addr)
	}
	mu.RLock()
	open := schemes[scheme]
	mu.RUnlock()
	if open == nil {
		return nil, fmt.Errorf("resource: no opener registered for scheme %q", scheme)
	}
	return open(rest)
}
