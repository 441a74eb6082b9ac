package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// errNotConnected reports a send attempted while no connection is up. The
// request is dropped; once the connection returns, the next filesystem event
// re-establishes consistency for that path.
var errNotConnected = errors.New("not connected")

// session is the connection core shared by both endpoints: the socket, the
// frame decoder, the serialized send path, the consecutive-failure budget
// and the loop-suppression history.
type session struct {
	metrics metrics.SyncMetrics

	// sendMu serializes writers so frames never interleave, and guards conn
	// and failures. The history push happens under it, before the write.
	sendMu   sync.Mutex
	conn     net.Conn
	failures int

	history History
	decoder *protocol.Decoder

	state atomic.Int32

	fatal     chan struct{}
	fatalOnce sync.Once
}

func (s *session) init(sm metrics.SyncMetrics) {
	s.metrics = sm
	s.decoder = protocol.NewDecoder()
	s.fatal = make(chan struct{})
}

// State returns the current connection state.
func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		logger.Debug("connection state changed", logger.KeyState, st.String(), "previous", prev.String())
	}
}

// setConn installs a fresh connection and resets the decoder so a partial
// frame from the previous stream cannot corrupt the new one.
func (s *session) setConn(conn net.Conn) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.conn = conn
	s.decoder.Reset()
}

// dropConn closes and forgets the current connection, if any.
func (s *session) dropConn() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// send frames one request and writes it to the connection. A failed write
// counts against the consecutive-failure budget and drops the connection so
// the read side notices and runs its recovery path.
func (s *session) send(req *protocol.Request) error {
	if req == nil {
		return nil
	}
	data, err := protocol.Encode(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", req.Kind, err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}

	s.history.Push(req)
	if _, err := s.conn.Write(data); err != nil {
		s.failures++
		if s.metrics != nil {
			s.metrics.RecordSendFailure()
		}
		_ = s.conn.Close()
		s.conn = nil
		if s.failures > maxSendFailures {
			s.fatalOnce.Do(func() { close(s.fatal) })
		}
		return fmt.Errorf("write %s request: %w", req.Kind, err)
	}
	s.failures = 0
	if s.metrics != nil {
		s.metrics.RecordRequestSent(req.Kind.String(), len(data))
	}
	return nil
}

// Sink adapts the send path for request producers: the watcher and the log
// shipper hand requests here and never block on or learn about transport
// state. Failures are logged and the request is dropped.
func (s *session) Sink() func(*protocol.Request) {
	return func(req *protocol.Request) {
		if req == nil {
			return
		}
		if err := s.send(req); err != nil {
			if errors.Is(err, errNotConnected) {
				logger.Debug("dropping request, not connected", logger.KeyKind, req.Kind.String())
				return
			}
			logger.Warn("send failed, dropping request",
				logger.Err(err),
				logger.KeyKind, req.Kind.String(),
				logger.KeyAttempt, s.failureCount(),
			)
		}
	}
}

func (s *session) failureCount() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.failures
}

// fatalTripped reports whether the consecutive-failure budget ran out.
func (s *session) fatalTripped() bool {
	select {
	case <-s.fatal:
		return true
	default:
		return false
	}
}

// sayGoodbye tells the peer this endpoint is leaving. Best effort: the
// connection may already be gone.
func (s *session) sayGoodbye() {
	if err := s.send(protocol.NewGoodbye()); err != nil {
		logger.Debug("goodbye not delivered", logger.Err(err))
	}
}

// readPump reads conn until it dies, feeding decoded requests to out, and
// closes out on return. Blocking reads stand in for deadline polling because
// SSH channel conns do not support deadlines; cancellation works by closing
// the conn. EOF is tolerated emptyReadLimit times with a pause between
// attempts; any other read error ends the pump immediately.
func (s *session) readPump(ctx context.Context, conn net.Conn, out chan<- *protocol.Request) {
	defer close(out)

	buf := make([]byte, readChunkSize)
	emptyReads := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			emptyReads = 0
			s.decoder.Feed(buf[:n])
			s.drainDecoder(out)
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			if ctx.Err() == nil {
				logger.Debug("read failed", logger.Err(err))
			}
			return
		}
		emptyReads++
		if emptyReads >= emptyReadLimit {
			logger.Debug("connection lost after consecutive empty reads", logger.KeyAttempt, emptyReads)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(emptyReadPause):
		}
	}
}

// drainDecoder moves every complete frame in the decoder buffer to out.
// Malformed frames are logged and counted; the stream stays usable.
func (s *session) drainDecoder(out chan<- *protocol.Request) {
	for {
		before := s.decoder.Buffered()
		req, err := s.decoder.Next()
		if err != nil {
			var resync *protocol.ResyncError
			if errors.As(err, &resync) {
				logger.Warn("frame dropped", logger.Err(resync))
				if s.metrics != nil {
					s.metrics.RecordRequestDropped(metrics.DropMalformed)
				}
				continue
			}
			return
		}
		if s.metrics != nil {
			s.metrics.RecordRequestReceived(req.Kind.String(), before-s.decoder.Buffered())
		}
		out <- req
	}
}
