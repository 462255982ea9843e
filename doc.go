// Package capsule models self-contained executable archives: a single
// container file (or exploded directory) holding an application's compiled
// units plus its library dependencies as nested sub-containers.
//
// A container file uses a ZIP-family layout and may be prefixed by an
// arbitrary executable stub; the parser tolerates the prefix by deriving a
// base-offset correction from the end-of-index trailer. Nested library
// containers are exposed as zero-copy views over the parent's backing
// bytes: they are never unpacked to disk, and their indexes are built
// lazily, only when a library is actually used.
//
// The package provides the [Archive] abstraction with directory-backed
// ([DirArchive]) and file-backed ([FileArchive]) implementations. Higher
// layers build on it:
//   - nested: chained-address resolution across arbitrarily deep nesting
//   - loader: ordered first-match resource resolution over a classpath
//   - launch: the bootstrap state machine that locates and invokes the
//     application entry point
package capsule
