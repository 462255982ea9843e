// Package launch drives process bootstrap: it classifies the running
// artifact, assembles the ordered classpath from its nested containers,
// installs the nested-resource protocol and the bootstrap loader, and
// invokes the application entry point named by the manifest.
package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/capsulekit/capsule"
	"github.com/capsulekit/capsule/loader"
	"github.com/capsulekit/capsule/nested"
)

// Default filter convention: one classes-root directory entry plus every
// file entry under the library prefix. Callers override it with
// WithFilter.
const (
	ClassesRoot = "app/classes/"
	LibPrefix   = "app/lib/"
)

// EntryPointKey is the manifest attribute naming the entry point.
const EntryPointKey = "Entry-Point"

// ErrEntryPoint reports an entry point the assembled process cannot
// resolve.
var ErrEntryPoint = errors.New("launch: entry point not resolved")

// DefaultFilter matches the default nested-container convention.
func DefaultFilter(e capsule.Entry) bool {
	if e.Dir {
		return e.Name == ClassesRoot
	}
	return strings.HasPrefix(e.Name, LibPrefix)
}

// Launcher drives one bootstrap sequence. It is single-threaded; the only
// concurrency-sensitive step, protocol installation, is guarded inside
// nested.Install.
type Launcher struct {
	root   string
	filter capsule.EntryFilter
	parent loader.Parent
	logger *slog.Logger
	config Config

	state  State
	loader *loader.Loader
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithRoot launches the artifact at path instead of the running
// executable.
func WithRoot(path string) Option {
	return func(l *Launcher) {
		l.root = path
	}
}

// WithFilter replaces the default nested-container convention.
func WithFilter(f capsule.EntryFilter) Option {
	return func(l *Launcher) {
		l.filter = f
	}
}

// WithParent sets the loader consulted for names outside the assembled
// classpath.
func WithParent(p loader.Parent) Option {
	return func(l *Launcher) {
		l.parent = p
	}
}

// WithLogger attaches a logger for bootstrap diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithConfig applies launch overrides (root, entry point, extra
// classpath).
func WithConfig(c Config) Option {
	return func(l *Launcher) {
		l.config = c
	}
}

// New builds a Launcher.
func New(opts ...Option) *Launcher {
	l := &Launcher{filter: DefaultFilter, state: StateInit}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Launcher) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// State reports the orchestrator's current state.
func (l *Launcher) State() State {
	return l.state
}

// Loader returns the constructed bootstrap loader, nil until the
// loader-ready state is reached.
func (l *Launcher) Loader() *loader.Loader {
	return l.loader
}

// Launch runs the bootstrap sequence and invokes the entry point with args
// verbatim. An error raised by the entry point propagates unmodified; all
// earlier failures are fatal and nothing is retried.
func (l *Launcher) Launch(args []string) error {
	err := l.run(args)
	if err != nil {
		l.state = StateFailed
	}
	return err
}

func (l *Launcher) run(args []string) error {
	root, err := l.resolveRoot()
	if err != nil {
		return err
	}
	l.state = StateArchiveResolved
	l.log().Debug("archive resolved", "location", root.Location())

	// The entry point is read before any classpath or loader work so a
	// missing manifest wastes nothing.
	entryName, err := l.entryPoint(root)
	if err != nil {
		return err
	}

	classpath, err := l.buildClasspath(root)
	if err != nil {
		return err
	}
	l.state = StateClasspathBuilt
	l.log().Debug("classpath built", "containers", len(classpath))

	if err := nested.Install(); err != nil {
		return fmt.Errorf("launch: install nested-resource protocol: %w", err)
	}
	l.loader = loader.New(classpath,
		loader.WithParent(l.parent),
		loader.WithLogger(l.logger),
	)
	SetActive(l.loader)
	l.state = StateLoaderReady

	fn, ok := lookupEntryPoint(entryName)
	if !ok {
		return fmt.Errorf("%w: %q is not registered", ErrEntryPoint, entryName)
	}
	l.state = StateMainInvoked
	l.log().Debug("invoking entry point", "name", entryName, "args", len(args))
	if err := fn(args); err != nil {
		return err
	}
	l.state = StateTerminated
	return nil
}

// resolveRoot classifies the running artifact: config override, explicit
// option, or the process' own code origin; a directory becomes an exploded
// container, anything else an indexed file.
func (l *Launcher) resolveRoot() (capsule.Archive, error) {
	path := l.config.Root
	if path == "" {
		path = l.root
	}
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("launch: determine code origin: %w", err)
		}
		path = exe
	}
	return openRoot(path)
}

func openRoot(path string) (capsule.Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("launch: inspect artifact: %w", err)
	}
	if info.IsDir() {
		return capsule.NewDirArchive(path)
	}
	return capsule.OpenFile(path)
}

// entryPoint reads the required attribute from the root manifest, unless
// the configuration overrides it. Absence of either the manifest or the
// attribute is fatal.
func (l *Launcher) entryPoint(root capsule.Archive) (string, error) {
	if l.config.EntryPoint != "" {
		return l.config.EntryPoint, nil
	}
	m, err := root.Manifest()
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("%w: %s has no manifest", capsule.ErrManifest, root.Location())
	}
	name, ok := m.Get(EntryPointKey)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no %s attribute in %s", capsule.ErrManifest, EntryPointKey, root.Location())
	}
	return name, nil
}

// buildClasspath assembles the ordered classpath: configured extra entries
// first, then the root's filter-matched nested containers in physical
// order. The order is never re-sorted.
func (l *Launcher) buildClasspath(root capsule.Archive) ([]capsule.Archive, error) {
	var classpath []capsule.Archive
	for _, extra := range l.config.Classpath {
		a, err := openRoot(extra)
		if err != nil {
			return nil, fmt.Errorf("%w: classpath entry %q: %w", capsule.ErrClasspath, extra, err)
		}
		classpath = append(classpath, a)
	}
	children, err := root.Nested(l.filter)
	if err != nil {
		return nil, err
	}
	return append(classpath, children...), nil
}
