package metrics

import (
	"time"
)

// Drop reasons attached to the dropped-requests counter.
const (
	// DropFiltered marks filesystem events rejected by the watcher's noise
	// filter (temp files, VCS directories, empty files).
	DropFiltered = "filtered"
	// DropUnmapped marks paths no mapping covers.
	DropUnmapped = "unmapped"
	// DropLoop marks requests suppressed because their fingerprint was seen
	// in the loop-suppression history.
	DropLoop = "loop"
	// DropQueueFull marks requests evicted from the executor queue to make
	// room for newer ones.
	DropQueueFull = "queue_full"
	// DropMalformed marks frames the decoder could not turn into a request.
	DropMalformed = "malformed"
)

// SyncMetrics provides observability for the synchronization engine on both
// endpoints. This interface is optional - pass nil to disable metrics
// collection with zero overhead.
type SyncMetrics interface {
	// RecordRequestSent records one request written to the wire, with its
	// kind name and encoded size in bytes.
	RecordRequestSent(kind string, bytes int)

	// RecordRequestReceived records one request decoded from the wire.
	RecordRequestReceived(kind string, bytes int)

	// RecordRequestDropped records a request dropped before it took effect,
	// labelled with one of the Drop* reasons.
	RecordRequestDropped(reason string)

	// RecordActionApplied records one executor action with its outcome.
	RecordActionApplied(action string, duration time.Duration, success bool)

	// RecordSendFailure increments the consecutive-send-failure counter.
	RecordSendFailure()

	// RecordReconnect increments the reconnect counter.
	RecordReconnect()

	// SetQueueDepth updates the executor queue depth gauge.
	SetQueueDepth(depth int)

	// SetActiveClients updates the exec-side active client gauge.
	SetActiveClients(count int)
}
