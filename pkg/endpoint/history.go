package endpoint

import (
	"sync"

	"github.com/marmos91/remotedev/pkg/protocol"
)

// historyCapacity is how many recent FILE fingerprints each endpoint
// remembers. Deliberately shallow: the ring only has to absorb the echo an
// applied change produces on the peer's watcher, not provide consistency.
const historyCapacity = 4

// fingerprint identifies a FILE request for loop suppression. Content
// length stands in for the payload, so an echo with identical size is
// suppressed even if the bytes changed in between; the next local event
// re-propagates it.
type fingerprint struct {
	action protocol.FileAction
	src    string
	size   int
}

// History is a bounded ring of the most recent FILE request fingerprints an
// endpoint has sent. Safe for concurrent use.
type History struct {
	mu   sync.Mutex
	ring [historyCapacity]fingerprint
	used int
	next int
}

// Push records a FILE request's fingerprint, evicting the oldest entry when
// the ring is full. Other request kinds are ignored.
func (h *History) Push(req *protocol.Request) {
	fp, ok := fingerprintOf(req)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = fp
	h.next = (h.next + 1) % historyCapacity
	if h.used < historyCapacity {
		h.used++
	}
}

// Seen reports whether the request's fingerprint matches a remembered one.
func (h *History) Seen(req *protocol.Request) bool {
	fp, ok := fingerprintOf(req)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.used; i++ {
		if h.ring[i] == fp {
			return true
		}
	}
	return false
}

func fingerprintOf(req *protocol.Request) (fingerprint, bool) {
	if req == nil || req.Kind != protocol.KindFile {
		return fingerprint{}, false
	}
	return fingerprint{action: req.Action, src: req.Src, size: len(req.Content)}, true
}
