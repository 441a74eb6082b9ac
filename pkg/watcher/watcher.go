// Package watcher turns filesystem changes under a directory tree into FILE
// requests. It wraps fsnotify with manual recursion, filters out editor
// noise and version-control churn, rewrites local paths to wire paths
// through a mapper, and hands the surviving requests to a sink callback in
// arrival order. It never reorders and never coalesces.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/mapper"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// renameGrace is how long an unpaired rename source is held before it
// degrades to a DELETE. A rename inside the tree arrives as a rename/create
// pair on consecutive events; the grace period only matters when the
// destination lies outside the tree.
const renameGrace = 500 * time.Millisecond

// Sink receives every request the watcher builds. The watcher calls it
// inline from its event loop, so implementations must not block for long.
type Sink func(*protocol.Request)

// Config carries the dependencies for a Watcher.
type Config struct {
	// Root is the absolute directory to watch recursively.
	Root string

	// Mapper rewrites local paths into wire paths. Paths it cannot map are
	// dropped with a debug log.
	Mapper mapper.Mapper

	// Sink receives the requests built from accepted events.
	Sink Sink

	// DropList holds absolute paths whose events are discarded, such as a
	// log file the same process is tailing.
	DropList []string

	// Metrics is optional; pass nil to disable instrumentation.
	Metrics metrics.SyncMetrics
}

type pendingRename struct {
	path  string
	isDir bool
}

// Watcher emits FILE requests for changes under a root directory.
//
// One Watcher owns one fsnotify instance and one event loop; Run blocks
// until the context is cancelled. The exec side runs one Watcher per mapping
// destination, the dev side runs a single Watcher on the local directory.
type Watcher struct {
	root     string
	mapper   mapper.Mapper
	sink     Sink
	dropList map[string]struct{}
	metrics  metrics.SyncMetrics
	selfPath string

	// Event-loop state below is touched only from Run's goroutine.
	fw      *fsnotify.Watcher
	watched map[string]struct{}
	pending *pendingRename
	grace   *time.Timer
}

// New validates the configuration and starts watching the tree under
// cfg.Root. Events accumulate from the moment New returns; call Run to
// drain them.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("watch root %q must be absolute", cfg.Root)
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %q is not a directory", cfg.Root)
	}
	if cfg.Mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	drop := make(map[string]struct{}, len(cfg.DropList))
	for _, p := range cfg.DropList {
		drop[filepath.Clean(p)] = struct{}{}
	}

	// Never mirror changes to the running binary itself. An empty path on
	// lookup failure simply never matches.
	self, _ := os.Executable()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(cfg.Root),
		mapper:   cfg.Mapper,
		sink:     cfg.Sink,
		dropList: drop,
		metrics:  cfg.Metrics,
		selfPath: self,
		fw:       fw,
		watched:  make(map[string]struct{}),
	}
	w.grace = time.NewTimer(renameGrace)
	w.grace.Stop()

	if err := w.watchTree(w.root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", w.root, err)
	}
	return w, nil
}

// Close releases the underlying watches. Run closes on exit, so Close only
// needs to be called directly when a constructed Watcher is never run.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

// Run dispatches events until ctx is cancelled, then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.Close() }()
	defer w.grace.Stop()

	logger.Debug("watcher started", logger.KeyPath, w.root, "directories", len(w.watched))

	for {
		select {
		case <-ctx.Done():
			w.flushPending()
			logger.Debug("watcher stopped", logger.KeyPath, w.root)
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)

		case <-w.grace.C:
			w.flushPending()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.Err(err), logger.KeyPath, w.root)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if w.pending != nil {
			w.emitMove(ev.Name)
			return
		}
		w.emitCreate(ev.Name)

	case ev.Op&fsnotify.Write != 0:
		w.flushPending()
		w.emitUpdate(ev.Name)

	case ev.Op&fsnotify.Remove != 0:
		w.flushPending()
		w.emitDelete(ev.Name)

	case ev.Op&fsnotify.Rename != 0:
		// Hold the source until the paired create shows up. If nothing
		// pairs within the grace period the file left the tree and the
		// rename degrades to a delete.
		w.flushPending()
		w.pending = &pendingRename{path: ev.Name, isDir: w.isWatchedDir(ev.Name)}
		w.grace.Reset(renameGrace)

	default:
		// Chmod carries no payload worth mirroring.
	}
}

// flushPending emits the held rename source as a DELETE.
func (w *Watcher) flushPending() {
	p := w.pending
	if p == nil {
		return
	}
	w.pending = nil
	w.grace.Stop()

	// The moved-away directory keeps its kernel watches (they follow the
	// inode) and would report events under stale names.
	if p.isDir {
		w.forgetTree(p.path)
	}
	if w.dropped(p.path, "") {
		return
	}
	rel, ok := w.mapper.ToWire(p.path)
	if !ok {
		w.dropUnmapped(p.path)
		return
	}
	w.send(protocol.NewFileRequest(protocol.ActionDelete, entryType(p.isDir), rel, "", nil))
}

func (w *Watcher) emitCreate(name string) {
	if w.dropped(name, "") {
		return
	}
	info, err := os.Lstat(name)
	if err != nil {
		w.drop(name, "vanished before stat")
		return
	}

	if info.IsDir() {
		if err := w.watchTree(name); err != nil {
			logger.Warn("cannot watch new directory", logger.Err(err), logger.KeyPath, name)
		}
		rel, ok := w.mapper.ToWire(name)
		if !ok {
			w.dropUnmapped(name)
			return
		}
		w.send(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeDir, rel, "", nil))
		return
	}

	rel, ok := w.mapper.ToWire(name)
	if !ok {
		w.dropUnmapped(name)
		return
	}
	content, ok := w.readContent(name, info)
	if !ok {
		return
	}
	w.send(protocol.NewFileRequest(protocol.ActionCreate, protocol.TypeFile, rel, "", content))
}

func (w *Watcher) emitUpdate(name string) {
	if w.dropped(name, "") {
		return
	}
	info, err := os.Lstat(name)
	if err != nil {
		w.drop(name, "vanished before stat")
		return
	}
	if info.IsDir() {
		w.drop(name, "update on directory")
		return
	}
	rel, ok := w.mapper.ToWire(name)
	if !ok {
		w.dropUnmapped(name)
		return
	}
	content, ok := w.readContent(name, info)
	if !ok {
		return
	}
	w.send(protocol.NewFileRequest(protocol.ActionUpdate, protocol.TypeFile, rel, "", content))
}

func (w *Watcher) emitDelete(name string) {
	isDir := w.isWatchedDir(name)
	if isDir {
		w.forgetTree(name)
	}
	if w.dropped(name, "") {
		return
	}
	rel, ok := w.mapper.ToWire(name)
	if !ok {
		w.dropUnmapped(name)
		return
	}
	w.send(protocol.NewFileRequest(protocol.ActionDelete, entryType(isDir), rel, "", nil))
}

// emitMove pairs the held rename source with the create that followed it.
func (w *Watcher) emitMove(dest string) {
	p := w.pending
	w.pending = nil
	w.grace.Stop()

	if p.isDir {
		// Watches travel with the inode but keep reporting old names, so
		// drop the stale entries and walk the new location fresh.
		w.forgetTree(p.path)
		if err := w.watchTree(dest); err != nil {
			logger.Warn("cannot watch moved directory", logger.Err(err), logger.KeyPath, dest)
		}
	}

	if w.dropped(p.path, dest) {
		return
	}
	relSrc, ok := w.mapper.ToWire(p.path)
	if !ok {
		w.dropUnmapped(p.path)
		return
	}
	relDest, ok := w.mapper.ToWire(dest)
	if !ok {
		w.dropUnmapped(dest)
		return
	}
	w.send(protocol.NewFileRequest(protocol.ActionMove, entryType(p.isDir), relSrc, relDest, nil))
}

// readContent loads the whole file for CREATE/UPDATE requests. Unreadable
// and empty files are dropped, as are special files that a blocking read
// could hang on.
func (w *Watcher) readContent(name string, info os.FileInfo) ([]byte, bool) {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Stat(name)
		if err != nil || !target.Mode().IsRegular() {
			w.drop(name, "symlink without regular target")
			return nil, false
		}
	} else if !info.Mode().IsRegular() {
		w.drop(name, "not a regular file")
		return nil, false
	}

	content, err := os.ReadFile(name)
	if err != nil {
		w.drop(name, "unreadable file")
		return nil, false
	}
	if len(content) == 0 {
		w.drop(name, "empty file")
		return nil, false
	}
	return content, true
}

// watchTree adds watches for root and every directory below it, skipping
// directories that the segment rules would reject anyway.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Debug("skipping unreadable path", logger.Err(err), logger.KeyPath, path)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			if _, ok := rejectedSegments[d.Name()]; ok {
				return filepath.SkipDir
			}
		}
		if err := w.fw.Add(path); err != nil {
			if path == root {
				return err
			}
			logger.Warn("cannot watch directory", logger.Err(err), logger.KeyPath, path)
			return nil
		}
		w.watched[path] = struct{}{}
		return nil
	})
}

// forgetTree drops bookkeeping and live watches under prefix. Watches on
// already-deleted directories are gone from the kernel side, so Remove
// errors are ignored.
func (w *Watcher) forgetTree(prefix string) {
	prefix = filepath.Clean(prefix)
	sep := string(filepath.Separator)
	for dir := range w.watched {
		if dir == prefix || strings.HasPrefix(dir, prefix+sep) {
			delete(w.watched, dir)
			_ = w.fw.Remove(dir)
		}
	}
}

func (w *Watcher) isWatchedDir(path string) bool {
	_, ok := w.watched[filepath.Clean(path)]
	return ok
}

func (w *Watcher) send(req *protocol.Request) {
	logger.Debug("change detected", logger.KeyRequest, req.LogString())
	w.sink(req)
}

// dropped applies the name-based drop rules and reports whether the event
// was discarded.
func (w *Watcher) dropped(src, dest string) bool {
	reason := w.dropReason(src, dest)
	if reason == "" {
		return false
	}
	w.drop(src, reason)
	return true
}

func (w *Watcher) drop(path, reason string) {
	logger.Debug("event dropped", logger.KeyPath, path, logger.Reason(reason))
	if w.metrics != nil {
		w.metrics.RecordRequestDropped(metrics.DropFiltered)
	}
}

func (w *Watcher) dropUnmapped(path string) {
	logger.Debug("event dropped", logger.KeyPath, path, logger.Reason("path not mapped"))
	if w.metrics != nil {
		w.metrics.RecordRequestDropped(metrics.DropUnmapped)
	}
}

func entryType(isDir bool) protocol.FileType {
	if isDir {
		return protocol.TypeDir
	}
	return protocol.TypeFile
}
