package endpoint

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/executor"
	"github.com/marmos91/remotedev/pkg/logpipe"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/protocol"
	"github.com/marmos91/remotedev/pkg/tunnel"
)

// Transport is the dev side's path to the exec host's sync service.
// Production uses the SSH tunnel; tests substitute an in-memory pipe.
type Transport interface {
	// Open establishes the carrier connection.
	Open(ctx context.Context) error
	// Dial opens one channel to the sync service over the carrier.
	Dial() (net.Conn, error)
	// Close tears the carrier down. Safe to call repeatedly.
	Close() error
}

var _ Transport = (*tunnel.Tunnel)(nil)

// DevSyncConfig assembles a DevSync.
type DevSyncConfig struct {
	// Transport reaches the exec host's sync service.
	Transport Transport
	// Executor applies FILE requests arriving from the exec side.
	Executor *executor.Executor
	// Receiver persists LOG requests arriving from the exec side.
	Receiver *logpipe.Receiver
	// Metrics may be nil.
	Metrics metrics.SyncMetrics
}

// DevSync is the workstation endpoint. It owns the connect loop: open the
// tunnel, dial the forwarded socket, probe the service, then dispatch
// traffic until the connection dies and start over.
type DevSync struct {
	session
	transport Transport
	executor  *executor.Executor
	receiver  *logpipe.Receiver
}

// NewDevSync validates cfg and returns a disconnected endpoint.
func NewDevSync(cfg DevSyncConfig) (*DevSync, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Receiver == nil {
		return nil, fmt.Errorf("receiver is required")
	}
	d := &DevSync{
		transport: cfg.Transport,
		executor:  cfg.Executor,
		receiver:  cfg.Receiver,
	}
	d.session.init(cfg.Metrics)
	return d, nil
}

// Run drives the connect-serve-reconnect loop until ctx is cancelled or the
// consecutive send-failure budget runs out. Cancellation sends the peer a
// best-effort GOODBYE and returns nil.
func (d *DevSync) Run(ctx context.Context) error {
	for {
		conn, err := d.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("connection attempt failed", logger.Err(err))
			if !d.pauseBeforeRetry(ctx) {
				return nil
			}
			continue
		}

		d.serve(ctx, conn)
		d.dropConn()
		_ = d.transport.Close()
		d.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		if d.fatalTripped() {
			return fmt.Errorf("giving up after %d consecutive send failures", maxSendFailures+1)
		}
		if !d.pauseBeforeRetry(ctx) {
			return nil
		}
	}
}

func (d *DevSync) pauseBeforeRetry(ctx context.Context) bool {
	if d.metrics != nil {
		d.metrics.RecordReconnect()
	}
	return sleepCtx(ctx, reconnectDelay)
}

// connect runs the bring-up sequence: tunnel, then forwarded socket. The
// liveness probe happens in serve once the read pump is running.
func (d *DevSync) connect(ctx context.Context) (net.Conn, error) {
	if err := d.transport.Open(ctx); err != nil {
		return nil, fmt.Errorf("open tunnel: %w", err)
	}
	d.setState(StateTunnelOpen)

	conn, err := d.transport.Dial()
	if err != nil {
		_ = d.transport.Close()
		d.setState(StateDisconnected)
		return nil, fmt.Errorf("dial sync service: %w", err)
	}
	d.setState(StateSocketOpen)
	return conn, nil
}

// serve owns one established connection until it is lost, the peer says
// goodbye, ctx is cancelled, or the failure budget runs out.
func (d *DevSync) serve(ctx context.Context, conn net.Conn) {
	d.setConn(conn)

	requests := make(chan *protocol.Request, requestBuffer)
	go d.readPump(ctx, conn, requests)
	defer func() {
		d.dropConn()
		for range requests {
			// release the pump
		}
	}()

	if !d.probe(ctx, requests) {
		return
	}
	d.setState(StateReady)
	logger.Info("synchronizing with remote host", logger.KeyAddr, conn.RemoteAddr().String())

	for {
		select {
		case <-ctx.Done():
			d.setState(StateDraining)
			d.sayGoodbye()
			return
		case <-d.fatal:
			return
		case req, ok := <-requests:
			if !ok {
				logger.Warn("connection to remote host lost")
				return
			}
			if d.dispatch(req) {
				d.setState(StateDraining)
				return
			}
		}
	}
}

// probe checks that something is actually serving behind the forward: send
// PING, expect PONG before the timeout. Frames that raced ahead of the reply
// are skipped; they belong to a session this side has not committed to yet.
func (d *DevSync) probe(ctx context.Context, requests <-chan *protocol.Request) bool {
	if err := d.send(protocol.NewPing()); err != nil {
		logger.Warn("liveness probe not sent", logger.Err(err))
		return false
	}

	timer := time.NewTimer(pongTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			logger.Warn("no answer to liveness probe, assuming service is down")
			return false
		case req, ok := <-requests:
			if !ok {
				logger.Warn("connection closed during liveness probe")
				return false
			}
			switch req.Kind {
			case protocol.KindPong:
				return true
			case protocol.KindGoodbye:
				logger.Warn("remote host said goodbye during liveness probe")
				return false
			default:
				logger.Debug("skipping frame ahead of probe reply", logger.KeyKind, req.Kind.String())
			}
		}
	}
}

// dispatch routes one inbound request. It reports whether the peer said
// goodbye and the connection should wind down.
func (d *DevSync) dispatch(req *protocol.Request) bool {
	switch req.Kind {
	case protocol.KindFile:
		if d.history.Seen(req) {
			logger.Debug("suppressing looped request", logger.KeyRequest, req.LogString())
			if d.metrics != nil {
				d.metrics.RecordRequestDropped(metrics.DropLoop)
			}
			return false
		}
		d.executor.Enqueue(req)
	case protocol.KindLog:
		d.receiver.Handle(req)
	case protocol.KindGoodbye:
		logger.Info("remote host said goodbye")
		return true
	case protocol.KindPing, protocol.KindPong:
		logger.Debug("ignoring stray probe", logger.KeyKind, req.Kind.String())
	default:
		logger.Warn("dropping request with unknown kind", logger.KeyRequest, req.String())
		if d.metrics != nil {
			d.metrics.RecordRequestDropped(metrics.DropMalformed)
		}
	}
	return false
}
