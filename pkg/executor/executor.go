// Package executor applies FILE requests to the local filesystem.
//
// Requests queue in a bounded ring and a single worker drains them in
// arrival order, so mutations within one mapping land in the order the
// peer's watcher observed them. Every action is best-effort idempotent:
// failures are logged and the worker moves on to the next request.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/mapper"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// idleInterval is how long the worker sleeps when the queue is empty.
const idleInterval = 250 * time.Millisecond

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Executor owns the request queue and the worker that applies mutations.
type Executor struct {
	mapper  mapper.Mapper
	metrics metrics.SyncMetrics
	queue   requestQueue
}

// New creates an executor resolving wire paths through m. Metrics may be
// nil.
func New(m mapper.Mapper, sm metrics.SyncMetrics) *Executor {
	return &Executor{mapper: m, metrics: sm}
}

// Enqueue adds a FILE request for the worker. Anything else is ignored; the
// endpoints dispatch other kinds before they get here.
func (e *Executor) Enqueue(req *protocol.Request) {
	if req == nil || req.Kind != protocol.KindFile {
		return
	}
	evicted, depth := e.queue.push(req)
	if evicted {
		logger.Debug("executor queue full, evicted oldest request")
		if e.metrics != nil {
			e.metrics.RecordRequestDropped(metrics.DropQueueFull)
		}
	}
	if e.metrics != nil {
		e.metrics.SetQueueDepth(depth)
	}
	logger.Debug("request queued", logger.KeyRequest, req.String(), "depth", depth)
}

// Pending returns the current queue depth.
func (e *Executor) Pending() int {
	return e.queue.len()
}

// Run drains the queue until the context is cancelled. An in-flight request
// finishes before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	logger.Debug("executor started")
	for {
		req, depth, ok := e.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				logger.Debug("executor stopped")
				return nil
			case <-time.After(idleInterval):
			}
			continue
		}
		if e.metrics != nil {
			e.metrics.SetQueueDepth(depth)
		}
		e.apply(req)

		select {
		case <-ctx.Done():
			logger.Debug("executor stopped")
			return nil
		default:
		}
	}
}

// apply resolves the request's paths and performs the mutation.
func (e *Executor) apply(req *protocol.Request) {
	src, ok := e.mapper.FromWire(req.Src)
	if !ok {
		logger.Debug("dropping request with unmapped source", logger.KeySrc, req.Src)
		if e.metrics != nil {
			e.metrics.RecordRequestDropped(metrics.DropUnmapped)
		}
		return
	}

	var dest mapper.Target
	if req.Action == protocol.ActionMove {
		dest, ok = e.mapper.FromWire(req.Dest)
		if !ok {
			logger.Debug("dropping request with unmapped destination", logger.KeyDest, req.Dest)
			if e.metrics != nil {
				e.metrics.RecordRequestDropped(metrics.DropUnmapped)
			}
			return
		}
	}

	start := time.Now()
	err := e.mutate(req, src, dest)
	if e.metrics != nil {
		e.metrics.RecordActionApplied(req.Action.String(), time.Since(start), err == nil)
	}
	if err != nil {
		logger.Error("request failed", logger.Err(err), logger.KeyRequest, req.LogString())
		return
	}
	logger.Debug("request applied", logger.KeyRequest, req.LogString())
}

func (e *Executor) mutate(req *protocol.Request, src, dest mapper.Target) error {
	switch req.Action {
	case protocol.ActionCreate:
		if req.Type == protocol.TypeDir {
			return os.MkdirAll(src.Path, dirPerm)
		}
		if err := os.MkdirAll(filepath.Dir(src.Path), dirPerm); err != nil {
			return fmt.Errorf("create parent: %w", err)
		}
		if err := os.WriteFile(src.Path, req.Content, filePerm); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		e.ensureLink(src)
		return nil

	case protocol.ActionUpdate:
		if req.Type == protocol.TypeDir {
			logger.Debug("update ignored for directories", logger.KeyPath, src.Path)
			return nil
		}
		if err := os.WriteFile(src.Path, req.Content, filePerm); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		e.ensureLink(src)
		return nil

	case protocol.ActionDelete:
		if req.Type == protocol.TypeDir {
			return os.RemoveAll(src.Path)
		}
		e.removeLink(src)
		if err := os.Remove(src.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file: %w", err)
		}
		return nil

	case protocol.ActionMove:
		if _, err := os.Stat(src.Path); err != nil {
			if os.IsNotExist(err) {
				logger.Debug("move source missing, dropping", logger.KeyPath, src.Path)
				return nil
			}
			return fmt.Errorf("stat source: %w", err)
		}
		if req.Type == protocol.TypeFile {
			e.removeLink(src)
		}
		if err := os.Rename(src.Path, dest.Path); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		if req.Type == protocol.TypeFile {
			e.ensureLink(dest)
		}
		return nil

	default:
		return fmt.Errorf("unhandled action %s", req.Action)
	}
}

// ensureLink creates the mapping's symlink pointing at the target path when
// one is configured and nothing occupies the link location yet. The link's
// parent directory must already exist; a failure here is logged but does not
// fail the action that triggered it.
func (e *Executor) ensureLink(t mapper.Target) {
	if t.Link == "" {
		return
	}
	if _, err := os.Lstat(t.Link); err == nil {
		return
	}
	if err := os.Symlink(t.Path, t.Link); err != nil {
		logger.Warn("create symlink failed", logger.Err(err), logger.KeyLink, t.Link, logger.KeyPath, t.Path)
		return
	}
	logger.Debug("symlink created", logger.KeyLink, t.Link, logger.KeyPath, t.Path)
}

// removeLink deletes the mapping's symlink if it exists.
func (e *Executor) removeLink(t mapper.Target) {
	if t.Link == "" {
		return
	}
	if _, err := os.Lstat(t.Link); err != nil {
		return
	}
	if err := os.Remove(t.Link); err != nil {
		logger.Warn("remove symlink failed", logger.Err(err), logger.KeyLink, t.Link)
		return
	}
	logger.Debug("symlink removed", logger.KeyLink, t.Link)
}
