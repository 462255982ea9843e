package nested

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/capsulekit/capsule"
	"github.com/capsulekit/capsule/resource"
)

// Resolver walks chained addresses left to right, caching every container
// it opens. The cache is keyed by (owning source identity, entry name), so
// two chains that terminate at the same nested container share one
// instance and its index is built once.
type Resolver struct {
	mu       sync.RWMutex
	archives map[string]capsule.Archive
	group    singleflight.Group
	logger   *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger attaches a logger for cache diagnostics.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns an empty resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{archives: make(map[string]capsule.Archive)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Stats returns the cache hit and miss counters.
func (r *Resolver) Stats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}

// Len returns the number of distinct containers the resolver holds open.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archives)
}

// OpenArchive resolves every segment of addr as a container and returns
// the container the chain terminates at.
func (r *Resolver) OpenArchive(addr Address) (capsule.Archive, error) {
	current, err := r.root(addr.Root)
	if err != nil {
		return nil, err
	}
	for _, seg := range addr.Segments {
		current, err = r.descend(current, seg)
		if err != nil {
			return nil, fmt.Errorf("nested: resolve %s: %w", addr, err)
		}
	}
	return current, nil
}

// Open resolves all but the last segment as containers and streams the
// final segment's bytes. Reads are decompressed incrementally, never
// materialized up front.
func (r *Resolver) Open(addr Address) (io.ReadCloser, error) {
	if len(addr.Segments) == 0 {
		return nil, fmt.Errorf("nested: address %s names a container, not a resource", addr)
	}
	owner, err := r.OpenArchive(Address{Root: addr.Root, Segments: addr.Segments[:len(addr.Segments)-1]})
	if err != nil {
		return nil, err
	}
	f, err := owner.Open(addr.Segments[len(addr.Segments)-1])
	if err != nil {
		return nil, fmt.Errorf("nested: resolve %s: %w", addr, err)
	}
	return f, nil
}

// root opens (or reuses) the chain's root container: a directory or an
// indexed file.
func (r *Resolver) root(path string) (capsule.Archive, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return r.cached("root:"+abs, func() (capsule.Archive, error) {
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("nested: open root container: %w", err)
		}
		if info.IsDir() {
			return capsule.NewDirArchive(abs)
		}
		return capsule.OpenFile(abs)
	})
}

// descend opens (or reuses) the container for one entry of its parent.
func (r *Resolver) descend(parent capsule.Archive, name string) (capsule.Archive, error) {
	switch p := parent.(type) {
	case *capsule.FileArchive:
		return r.cached(p.SourceID()+"!/"+name, func() (capsule.Archive, error) {
			handle, err := p.Handle(name)
			if err != nil {
				return nil, err
			}
			return handle.Archive(), nil
		})
	case *capsule.DirArchive:
		return r.root(filepath.Join(p.Location(), filepath.FromSlash(name)))
	default:
		return nil, fmt.Errorf("nested: container %s cannot nest further", parent.Location())
	}
}

// cached returns the archive for key, opening it at most once even under
// concurrent first access.
func (r *Resolver) cached(key string, open func() (capsule.Archive, error)) (capsule.Archive, error) {
	r.mu.RLock()
	a, ok := r.archives[key]
	r.mu.RUnlock()
	if ok {
		r.hits.Add(1)
		r.log().Debug("container cache hit", "key", key)
		return a, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Double-check under the flight; a racing winner may have stored it.
		r.mu.RLock()
		a, ok := r.archives[key]
		r.mu.RUnlock()
		if ok {
			return a, nil
		}
		a, err := open()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.archives[key] = a
		r.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	r.misses.Add(1)
	r.log().Debug("container cache miss", "key", key)
	return v.(capsule.Archive), nil
}

var (
	defaultResolver = NewResolver()

	install = sync.OnceValue(func() error {
		return resource.Register(Scheme, func(rest string) (io.ReadCloser, error) {
			addr, err := ParseAddress(rest)
			if err != nil {
				return nil, err
			}
			return defaultResolver.Open(addr)
		})
	})
)

// Default returns the process-wide resolver backing the registered scheme.
func Default() *Resolver {
	return defaultResolver
}

// Install registers the capsule scheme with the generic resource registry.
//
// Installation is idempotent and race-safe: the registration runs at most
// once and every caller, racing or late, observes its result. It lives
// until process exit; there is no unregister path. A non-nil error means
// the scheme is already claimed by another party.
func Install() error {
	return install()
}
