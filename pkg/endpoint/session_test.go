package endpoint

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// ============================================================================
// Send path
// ============================================================================

func TestSendRequiresConnection(t *testing.T) {
	var s session
	s.init(nil)

	err := s.send(protocol.NewPing())
	require.ErrorIs(t, err, errNotConnected)
}

func TestSendFailureBudget(t *testing.T) {
	var s session
	s.init(nil)

	req := fileReq(protocol.ActionUpdate, "src/a.txt", "hello")
	for i := 1; i <= maxSendFailures; i++ {
		s.setConn(newFailingWriteConn())
		require.Error(t, s.send(req))
		assert.False(t, s.fatalTripped(), "budget should survive failure %d", i)
	}

	s.setConn(newFailingWriteConn())
	require.Error(t, s.send(req))
	assert.True(t, s.fatalTripped(), "failure %d should exhaust the budget", maxSendFailures+1)
}

func TestSendSuccessResetsBudget(t *testing.T) {
	var s session
	sm := newRecordingMetrics()
	s.init(sm)

	req := fileReq(protocol.ActionUpdate, "src/a.txt", "hello")
	for i := 0; i < maxSendFailures; i++ {
		s.setConn(newFailingWriteConn())
		require.Error(t, s.send(req))
	}

	working := &fakeConn{writeFn: func(p []byte) (int, error) { return len(p), nil }}
	s.setConn(working)
	require.NoError(t, s.send(req))
	assert.Equal(t, 0, s.failureCount())
	assert.Equal(t, 1, sm.sentCount("FILE"))

	s.setConn(newFailingWriteConn())
	require.Error(t, s.send(req))
	assert.False(t, s.fatalTripped(), "counter must restart after a successful send")
}

func TestSendFailureDropsConnection(t *testing.T) {
	var s session
	s.init(nil)

	s.setConn(newFailingWriteConn())
	require.Error(t, s.send(protocol.NewPing()))

	err := s.send(protocol.NewPing())
	require.ErrorIs(t, err, errNotConnected, "a failed write must drop the connection")
}

func TestSendRecordsHistoryBeforeWrite(t *testing.T) {
	var s session
	s.init(nil)

	req := fileReq(protocol.ActionUpdate, "src/a.txt", "hello")
	s.setConn(newFailingWriteConn())
	require.Error(t, s.send(req))
	assert.True(t, s.history.Seen(req), "fingerprint must be recorded before the write happens")
}

func TestSinkNeverPropagatesErrors(t *testing.T) {
	var s session
	s.init(nil)

	sink := s.Sink()
	sink(nil)
	sink(protocol.NewPing())

	s.setConn(newFailingWriteConn())
	sink(fileReq(protocol.ActionUpdate, "src/a.txt", "hello"))
	assert.Equal(t, 1, s.failureCount())
}

// ============================================================================
// Read pump
// ============================================================================

func TestReadPumpGivesUpAfterEOFBurst(t *testing.T) {
	var s session
	s.init(nil)

	var reads atomic.Int32
	conn := &fakeConn{readFn: func([]byte) (int, error) {
		reads.Add(1)
		return 0, io.EOF
	}}

	out := make(chan *protocol.Request, 1)
	start := time.Now()
	done := make(chan struct{})
	go func() {
		s.readPump(context.Background(), conn, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not give up on persistent EOF")
	}
	assert.EqualValues(t, emptyReadLimit, reads.Load())
	assert.GreaterOrEqual(t, time.Since(start), (emptyReadLimit-1)*emptyReadPause)
	_, open := <-out
	assert.False(t, open, "request channel should be closed")
}

func TestReadPumpDataResetsEOFCount(t *testing.T) {
	var s session
	s.init(nil)

	frame, err := protocol.Encode(protocol.NewPing())
	require.NoError(t, err)

	var call atomic.Int32
	conn := &fakeConn{readFn: func(p []byte) (int, error) {
		switch n := call.Add(1); {
		case n <= 2:
			return 0, io.EOF
		case n == 3:
			return copy(p, frame), nil
		default:
			return 0, io.EOF
		}
	}}

	out := make(chan *protocol.Request, 4)
	done := make(chan struct{})
	go func() {
		s.readPump(context.Background(), conn, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish")
	}

	reqs := make([]*protocol.Request, 0, 1)
	for req := range out {
		reqs = append(reqs, req)
	}
	require.Len(t, reqs, 1)
	assert.Equal(t, protocol.KindPing, reqs[0].Kind)
	// Two EOFs, one data read, then a full burst of EOFs before giving up.
	assert.EqualValues(t, 3+emptyReadLimit, call.Load())
}

func TestReadPumpResyncsAfterGarbage(t *testing.T) {
	var s session
	sm := newRecordingMetrics()
	s.init(sm)

	local, remote := net.Pipe()
	out := make(chan *protocol.Request, 4)
	pumpDone := make(chan struct{})
	go func() {
		s.readPump(context.Background(), local, out)
		close(pumpDone)
	}()

	_, err := remote.Write([]byte("noise before the first marker"))
	require.NoError(t, err)
	frame, err := protocol.Encode(protocol.NewPing())
	require.NoError(t, err)
	_, err = remote.Write(frame)
	require.NoError(t, err)

	select {
	case req := <-out:
		assert.Equal(t, protocol.KindPing, req.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("decoded request never arrived")
	}
	assert.GreaterOrEqual(t, sm.droppedCount(metrics.DropMalformed), 1)

	require.NoError(t, remote.Close())
	select {
	case <-pumpDone:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after the peer closed")
	}
}
