// Package endpoint implements the connection state machines on either side
// of the wire: DevSync dials the exec host and keeps the connection alive
// across failures, ExecSync serves one accepted client at a time.
//
// Both are built on a shared session core owning the socket, the frame
// decoder, the serialized send path and the loop-suppression history that
// keeps a change applied by one side from echoing back off the peer's
// watcher.
package endpoint

import (
	"context"
	"time"
)

// State tracks where an endpoint sits in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateTunnelOpen
	StateSocketOpen
	StateReady
	StateDraining
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateTunnelOpen:
		return "TUNNEL_OPEN"
	case StateSocketOpen:
		return "SOCKET_OPEN"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	default:
		return "DISCONNECTED"
	}
}

const (
	// reconnectDelay is how long the dev side waits after losing a
	// connection before retrying the full tunnel + socket + probe sequence.
	reconnectDelay = 2 * time.Second

	// pongTimeout bounds how long the dev side waits for the answer to its
	// connection probe. A silent peer usually means the SSH forward landed
	// on a port the sync service is not actually serving.
	pongTimeout = 500 * time.Millisecond

	// maxSendFailures is how many consecutive send failures an endpoint
	// tolerates before giving up. Any successful send resets the count.
	maxSendFailures = 10

	// emptyReadLimit and emptyReadPause govern EOF handling on the read
	// side: an EOF is retried after a pause, and only a run of them marks
	// the connection lost.
	emptyReadLimit = 8
	emptyReadPause = 250 * time.Millisecond

	// readChunkSize is the read buffer handed to the socket.
	readChunkSize = 32 * 1024

	// requestBuffer is the depth of the pump-to-dispatch channel.
	requestBuffer = 64
)

// sleepCtx waits for d unless ctx ends first. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
