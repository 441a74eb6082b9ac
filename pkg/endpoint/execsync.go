package endpoint

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/executor"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// ExecSync is the exec-host endpoint, bound to a single accepted client
// connection. The supervisor builds a fresh one per client and never runs
// two at once.
type ExecSync struct {
	session
	conn     net.Conn
	executor *executor.Executor
}

// NewExecSync wraps one accepted client connection.
func NewExecSync(conn net.Conn, exec *executor.Executor, sm metrics.SyncMetrics) (*ExecSync, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	x := &ExecSync{conn: conn, executor: exec}
	x.session.init(sm)
	return x, nil
}

// Run serves the client until it disconnects, says goodbye, or ctx is
// cancelled. On cancellation the client gets a best-effort GOODBYE so its
// reconnect loop starts immediately instead of waiting out its read
// discipline. A drained send-failure budget returns an error; the caller
// drops the client and goes back to accepting.
func (x *ExecSync) Run(ctx context.Context) error {
	x.setConn(x.conn)
	x.setState(StateReady)

	requests := make(chan *protocol.Request, requestBuffer)
	go x.readPump(ctx, x.conn, requests)
	defer func() {
		x.dropConn()
		for range requests {
			// release the pump
		}
		x.setState(StateDisconnected)
	}()

	logger.Info("client session started", logger.KeyClientIP, x.conn.RemoteAddr().String())

	for {
		select {
		case <-ctx.Done():
			x.setState(StateDraining)
			x.sayGoodbye()
			return nil
		case <-x.fatal:
			return fmt.Errorf("dropping client after %d consecutive send failures", maxSendFailures+1)
		case req, ok := <-requests:
			if !ok {
				logger.Info("client connection lost")
				return nil
			}
			if x.dispatch(req) {
				x.setState(StateDraining)
				return nil
			}
		}
	}
}

// dispatch routes one inbound request. It reports whether the client said
// goodbye.
func (x *ExecSync) dispatch(req *protocol.Request) bool {
	switch req.Kind {
	case protocol.KindFile:
		if x.history.Seen(req) {
			logger.Debug("suppressing looped request", logger.KeyRequest, req.LogString())
			if x.metrics != nil {
				x.metrics.RecordRequestDropped(metrics.DropLoop)
			}
			return false
		}
		x.executor.Enqueue(req)
	case protocol.KindPing:
		if err := x.send(protocol.NewPong()); err != nil {
			logger.Warn("probe reply not delivered", logger.Err(err))
		}
	case protocol.KindLog:
		// Log traffic flows exec to dev, never the other way.
		logger.Warn("dropping unexpected log request from client")
	case protocol.KindGoodbye:
		logger.Info("client said goodbye")
		return true
	case protocol.KindPong:
		logger.Debug("ignoring stray probe", logger.KeyKind, req.Kind.String())
	default:
		logger.Warn("dropping request with unknown kind", logger.KeyRequest, req.String())
		if x.metrics != nil {
			x.metrics.RecordRequestDropped(metrics.DropMalformed)
		}
	}
	return false
}
