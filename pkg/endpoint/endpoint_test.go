package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/remotedev/pkg/protocol"
)

// pipeTransport hands out pre-scripted connections, standing in for the SSH
// tunnel.
type pipeTransport struct {
	conns  chan net.Conn
	opens  atomic.Int32
	dials  atomic.Int32
	closes atomic.Int32
}

func newPipeTransport(conns ...net.Conn) *pipeTransport {
	ch := make(chan net.Conn, len(conns)+4)
	for _, c := range conns {
		ch <- c
	}
	return &pipeTransport{conns: ch}
}

func (p *pipeTransport) Open(context.Context) error {
	p.opens.Add(1)
	return nil
}

func (p *pipeTransport) Dial() (net.Conn, error) {
	p.dials.Add(1)
	select {
	case c := <-p.conns:
		return c, nil
	default:
		return nil, fmt.Errorf("no connection scripted")
	}
}

func (p *pipeTransport) Close() error {
	p.closes.Add(1)
	return nil
}

// fakePeer drives the far end of a pipe by hand: it decodes frames the
// endpoint writes and injects frames for the endpoint to read.
type fakePeer struct {
	t    *testing.T
	conn net.Conn
	dec  *protocol.Decoder
}

func newFakePeer(t *testing.T, conn net.Conn) *fakePeer {
	t.Helper()
	return &fakePeer{t: t, conn: conn, dec: protocol.NewDecoder()}
}

// next decodes one frame, failing the test if none arrives in time.
func (p *fakePeer) next(timeout time.Duration) *protocol.Request {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 4096)
	for {
		req, err := p.dec.Next()
		if err == nil {
			return req
		}
		require.ErrorIs(p.t, err, protocol.ErrNeedMore)
		n, rerr := p.conn.Read(buf)
		if n > 0 {
			p.dec.Feed(buf[:n])
			continue
		}
		require.NoError(p.t, rerr, "reading next frame from endpoint")
	}
}

// expectSilence fails the test if the endpoint writes anything before the
// deadline.
func (p *fakePeer) expectSilence(d time.Duration) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 1)
	n, err := p.conn.Read(buf)
	require.Zero(p.t, n, "unexpected bytes from endpoint")
	var nerr net.Error
	require.ErrorAs(p.t, err, &nerr)
	require.True(p.t, nerr.Timeout())
}

func (p *fakePeer) sendReq(req *protocol.Request) {
	p.t.Helper()
	data, err := protocol.Encode(req)
	require.NoError(p.t, err)
	_, err = p.conn.Write(data)
	require.NoError(p.t, err)
}

// serveHandshake consumes the liveness probe and answers it.
func (p *fakePeer) serveHandshake() {
	p.t.Helper()
	req := p.next(2 * time.Second)
	require.Equal(p.t, protocol.KindPing, req.Kind)
	p.sendReq(protocol.NewPong())
}

// fakeConn overrides selected net.Conn methods. Calling anything not
// overridden panics on the nil embedded Conn, which is fine: these tests
// only exercise the paths they script.
type fakeConn struct {
	net.Conn
	readFn  func([]byte) (int, error)
	writeFn func([]byte) (int, error)
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.readFn(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	return c.writeFn(p)
}

func (c *fakeConn) Close() error { return nil }

var errScriptedWrite = errors.New("scripted write failure")

func newFailingWriteConn() *fakeConn {
	return &fakeConn{
		readFn:  func([]byte) (int, error) { return 0, nil },
		writeFn: func([]byte) (int, error) { return 0, errScriptedWrite },
	}
}

// recordingMetrics counts SyncMetrics calls for assertions.
type recordingMetrics struct {
	mu            sync.Mutex
	sent          map[string]int
	received      map[string]int
	dropped       map[string]int
	sendFailures  int
	reconnects    int
	queueDepth    int
	activeClients int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		sent:     map[string]int{},
		received: map[string]int{},
		dropped:  map[string]int{},
	}
}

func (m *recordingMetrics) RecordRequestSent(kind string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[kind]++
}

func (m *recordingMetrics) RecordRequestReceived(kind string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[kind]++
}

func (m *recordingMetrics) RecordRequestDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) RecordActionApplied(string, time.Duration, bool) {}

func (m *recordingMetrics) RecordSendFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFailures++
}

func (m *recordingMetrics) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

func (m *recordingMetrics) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

func (m *recordingMetrics) SetActiveClients(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeClients = count
}

func (m *recordingMetrics) droppedCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func (m *recordingMetrics) sentCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[kind]
}
