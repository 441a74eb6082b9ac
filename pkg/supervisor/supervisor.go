// Package supervisor assembles and runs the two halves of the mirror.
//
// The dev supervisor owns the SSH tunnel, the local watcher and the DevSync
// endpoint and keeps them running until stopped or until the endpoint gives
// up on the connection. The exec supervisor owns the listening socket and
// serves one dev client at a time: each accepted connection gets a fresh
// endpoint, executor, destination watchers and log shipper, and a new
// client replaces the previous session.
package supervisor

import (
	"context"
	"sync"
)

// lifecycle is the shutdown plumbing shared by both supervisors. Stop may
// be called multiple times and concurrently with Serve; it returns once
// Serve has wound down.
type lifecycle struct {
	shutdown     chan struct{}
	shutdownOnce sync.Once
	serveDone    chan struct{}
}

func (l *lifecycle) init() {
	l.shutdown = make(chan struct{})
	l.serveDone = make(chan struct{})
}

func (l *lifecycle) initiateShutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdown) })
}

// awaitServe blocks until Serve returns or ctx expires.
func (l *lifecycle) awaitServe(ctx context.Context) error {
	select {
	case <-l.serveDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
