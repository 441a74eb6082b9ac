// Package mapper translates filesystem paths between their local absolute
// form and the relative forward-slash form used on the wire.
//
// The dev side uses a single repository root: wire paths are simply the
// path below that root. The exec side uses an ordered mapping table that
// rewrites wire prefixes to absolute destination directories, optionally
// pairing each destination with a symlink directory. Both mappers are
// immutable after construction and safe for concurrent readers.
package mapper

// Target is the local resolution of a wire path: the absolute path to
// operate on, plus the symlink location configured for the matched mapping
// (empty when the mapping has none).
type Target struct {
	Path string
	Link string
}

// Mapper rewrites paths between the local filesystem and the wire.
type Mapper interface {
	// ToWire maps a local absolute path to its wire form. ok is false when
	// the path lies outside every configured mapping; callers drop such
	// events instead of failing.
	ToWire(abs string) (rel string, ok bool)

	// FromWire resolves a wire path to the local target it designates. ok
	// is false when no mapping covers the path.
	FromWire(rel string) (Target, bool)
}
