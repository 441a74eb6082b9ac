package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/endpoint"
	"github.com/marmos91/remotedev/pkg/executor"
	"github.com/marmos91/remotedev/pkg/logpipe"
	"github.com/marmos91/remotedev/pkg/mapper"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/tunnel"
	"github.com/marmos91/remotedev/pkg/watcher"
)

const (
	// acceptInterval bounds how long Accept blocks so the loop notices
	// shutdown between clients.
	acceptInterval = time.Second

	// sessionStopTimeout bounds the wait for a replaced session to wind
	// down before the new client is served anyway.
	sessionStopTimeout = 5 * time.Second
)

// ExecConfig carries everything the exec supervisor needs to serve dev
// clients.
type ExecConfig struct {
	// Mappings is the wire-to-destination table, compiled once at startup.
	Mappings []mapper.Mapping

	// LogFilePath, when set, is an existing log file tailed and shipped to
	// the connected dev client.
	LogFilePath string

	// RemoteLogging enables log shipping. Without a LogFilePath the
	// process's own records are shipped instead of a tailed file.
	RemoteLogging bool

	// BindAddress defaults to loopback. The only expected client arrives
	// through the SSH forward, which targets 127.0.0.1 on this host.
	BindAddress string

	// Port defaults to the tunnel service port.
	Port int

	// Metrics is optional; pass nil to disable instrumentation.
	Metrics metrics.SyncMetrics
}

// Exec runs the execution-host side: a listening socket serving one dev
// client at a time. Each accepted connection replaces the previous session
// entirely, so a reconnecting dev never talks to stale state.
//
// Serve may be called once. Stop interrupts it from any goroutine.
type Exec struct {
	lifecycle

	cfg    ExecConfig
	mapper *mapper.ExecMapper
	mode   logpipe.Mode
	roots  []string

	listenerMu sync.Mutex
	listener   *net.TCPListener
}

// NewExec compiles the mapping table and validates the log configuration.
// A configured log file that does not exist is a startup error; losing it
// later only degrades individual sessions.
func NewExec(cfg ExecConfig) (*Exec, error) {
	m, err := mapper.NewExecMapper(cfg.Mappings)
	if err != nil {
		return nil, err
	}

	mode := logpipe.ModeFor(cfg.RemoteLogging, cfg.LogFilePath)
	if mode == logpipe.ModeExternal {
		info, err := os.Stat(cfg.LogFilePath)
		if err != nil {
			return nil, fmt.Errorf("shipped log file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("shipped log file %q is a directory", cfg.LogFilePath)
		}
	}

	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = tunnel.ServicePort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	x := &Exec{
		cfg:    cfg,
		mapper: m,
		mode:   mode,
		roots:  m.WatchRoots(),
	}
	x.lifecycle.init()
	return x, nil
}

// Serve binds the service port and accepts dev clients until the context is
// cancelled or Stop is called. The socket is bound with SO_REUSEADDR so a
// restarted service reclaims the port immediately.
func (x *Exec) Serve(ctx context.Context) error {
	defer close(x.serveDone)

	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort(x.cfg.BindAddress, strconv.Itoa(x.cfg.Port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("unexpected listener type %T", ln)
	}

	x.listenerMu.Lock()
	x.listener = tcpLn
	x.listenerMu.Unlock()

	logger.Info("listening for dev connections",
		logger.KeyAddr, tcpLn.Addr().String(),
		logger.KeyMode, x.mode.String())

	var current *session
	defer func() {
		x.stopSession(current)
		x.closeListener()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-x.shutdown:
			return nil
		default:
		}

		if err := tcpLn.SetDeadline(time.Now().Add(acceptInterval)); err != nil {
			select {
			case <-x.shutdown:
				return nil
			default:
			}
			return fmt.Errorf("arm accept deadline: %w", err)
		}

		conn, err := tcpLn.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-x.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			logger.Warn("accept failed", logger.Err(err))
			continue
		}

		if current != nil {
			logger.Debug("new client replaces the active session")
			x.stopSession(current)
		}
		current = x.startSession(ctx, conn)
	}
}

// Stop interrupts Serve, tears down the active session and waits for the
// wind-down, up to ctx's deadline.
func (x *Exec) Stop(ctx context.Context) error {
	x.initiateShutdown()
	x.closeListener()
	if err := x.awaitServe(ctx); err != nil {
		return fmt.Errorf("exec supervisor did not stop cleanly: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or "" before Serve binds it.
func (x *Exec) Addr() string {
	x.listenerMu.Lock()
	defer x.listenerMu.Unlock()
	if x.listener == nil {
		return ""
	}
	return x.listener.Addr().String()
}

func (x *Exec) closeListener() {
	x.listenerMu.Lock()
	defer x.listenerMu.Unlock()
	if x.listener == nil {
		return
	}
	_ = x.listener.Close()
	x.listener = nil
}

// session groups everything built for one accepted client. Cancelling the
// context winds down the endpoint, the executor, the watchers and the log
// shipper together; done closes once all of them have returned.
type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func (x *Exec) startSession(ctx context.Context, conn net.Conn) *session {
	id := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)

	ex := executor.New(x.mapper, x.cfg.Metrics)
	es, err := endpoint.NewExecSync(conn, ex, x.cfg.Metrics)
	if err != nil {
		cancel()
		_ = conn.Close()
		logger.Error("client session not started", logger.Err(err), logger.KeySessionID, id)
		return nil
	}

	logger.Info("client connected",
		logger.KeySessionID, id,
		logger.KeyClientIP, conn.RemoteAddr().String())

	if x.cfg.Metrics != nil {
		x.cfg.Metrics.SetActiveClients(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel() // endpoint gone, wind down the rest of the session
		if err := es.Run(sctx); err != nil {
			logger.Error("client session failed", logger.Err(err), logger.KeySessionID, id)
		}
	}()

	wg.Add(1)
	go func() { defer wg.Done(); _ = ex.Run(sctx) }()

	for _, w := range x.buildWatchers(es.Sink()) {
		wg.Add(1)
		go func() { defer wg.Done(); _ = w.Run(sctx) }()
	}

	if sh := x.buildShipper(es.Sink()); sh != nil {
		wg.Add(1)
		go func() { defer wg.Done(); _ = sh.Run(sctx) }()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		cancel()
		if x.cfg.Metrics != nil {
			x.cfg.Metrics.SetActiveClients(0)
		}
		logger.Info("client session ended", logger.KeySessionID, id)
		close(done)
	}()

	return &session{id: id, cancel: cancel, done: done}
}

// stopSession cancels a session and waits for its goroutines. A nil session
// is a no-op, so callers never track whether one was started.
func (x *Exec) stopSession(s *session) {
	if s == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(sessionStopTimeout):
		logger.Warn("client session did not stop in time", logger.KeySessionID, s.id)
	}
}

// buildWatchers starts one watcher per concrete mapping destination. A
// destination that cannot be watched, typically because it has not been
// created yet, is skipped with a warning; the session still applies inbound
// changes under it.
func (x *Exec) buildWatchers(sink watcher.Sink) []*watcher.Watcher {
	var dropList []string
	if x.mode == logpipe.ModeExternal {
		dropList = []string{x.cfg.LogFilePath, logpipe.OffsetPath(x.cfg.LogFilePath)}
	}

	watchers := make([]*watcher.Watcher, 0, len(x.roots))
	for _, root := range x.roots {
		w, err := watcher.New(watcher.Config{
			Root:     root,
			Mapper:   x.mapper,
			Sink:     sink,
			DropList: dropList,
			Metrics:  x.cfg.Metrics,
		})
		if err != nil {
			logger.Warn("mapping destination not watched", logger.Err(err), logger.KeyPath, root)
			continue
		}
		watchers = append(watchers, w)
	}
	return watchers
}

// buildShipper creates the session's log shipper. A failure degrades the
// session to file sync only instead of refusing the client.
func (x *Exec) buildShipper(sink logpipe.Sink) *logpipe.Shipper {
	if x.mode == logpipe.ModeDisabled {
		return nil
	}
	sh, err := logpipe.NewShipper(x.mode, x.cfg.LogFilePath, sink)
	if err != nil {
		logger.Error("log shipping unavailable for this session",
			logger.Err(err), logger.KeyMode, x.mode.String())
		return nil
	}
	return sh
}
