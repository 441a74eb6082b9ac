package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/endpoint"
	"github.com/marmos91/remotedev/pkg/executor"
	"github.com/marmos91/remotedev/pkg/logpipe"
	"github.com/marmos91/remotedev/pkg/mapper"
	"github.com/marmos91/remotedev/pkg/metrics"
	"github.com/marmos91/remotedev/pkg/tunnel"
	"github.com/marmos91/remotedev/pkg/watcher"
)

// DevConfig carries everything the dev supervisor needs to mirror a local
// directory to an exec host.
type DevConfig struct {
	// Tunnel is the SSH endpoint the mirror runs through.
	Tunnel tunnel.Config

	// LocalDir is the mirrored tree on this machine. It must exist.
	LocalDir string

	// DataDir is where logs received from the exec host are written.
	DataDir string

	// Metrics is optional; pass nil to disable instrumentation.
	Metrics metrics.SyncMetrics
}

// Dev runs the workstation side: one tunnel, one watcher on the local
// directory and one DevSync endpoint that reconnects on its own.
//
// Serve may be called once. Stop interrupts it from any goroutine.
type Dev struct {
	lifecycle

	cfg    DevConfig
	tunnel *tunnel.Tunnel
	mapper *mapper.DevMapper
}

// NewDev validates the configuration. The local directory has to exist
// already; a profile pointing at a missing tree is a configuration error,
// not something to create silently.
func NewDev(cfg DevConfig) (*Dev, error) {
	tun, err := tunnel.New(cfg.Tunnel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("local directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local directory %q is not a directory", cfg.LocalDir)
	}

	m, err := mapper.NewDevMapper(cfg.LocalDir)
	if err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	d := &Dev{cfg: cfg, tunnel: tun, mapper: m}
	d.lifecycle.init()
	return d, nil
}

// Serve runs the dev side until the context is cancelled, Stop is called or
// the endpoint gives up after too many consecutive send failures. The
// returned error is nil on a clean stop.
func (d *Dev) Serve(ctx context.Context) error {
	defer close(d.serveDone)

	ex := executor.New(d.mapper, d.cfg.Metrics)
	recv := logpipe.NewReceiver(d.cfg.DataDir, d.cfg.Tunnel.Host)
	defer func() { _ = recv.Close() }()

	ds, err := endpoint.NewDevSync(endpoint.DevSyncConfig{
		Transport: d.tunnel,
		Executor:  ex,
		Receiver:  recv,
		Metrics:   d.cfg.Metrics,
	})
	if err != nil {
		return err
	}

	w, err := watcher.New(watcher.Config{
		Root:    d.cfg.LocalDir,
		Mapper:  d.mapper,
		Sink:    ds.Sink(),
		Metrics: d.cfg.Metrics,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.shutdown:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = ex.Run(runCtx) }()
	go func() { defer wg.Done(); _ = w.Run(runCtx) }()

	logger.Info("mirroring local directory",
		logger.KeyPath, d.cfg.LocalDir,
		logger.KeyRemoteHost, d.cfg.Tunnel.Host,
		logger.KeyFile, recv.Path())

	err = ds.Run(runCtx)
	cancel()
	wg.Wait()
	return err
}

// Stop interrupts Serve and waits for it to wind down, up to ctx's
// deadline.
func (d *Dev) Stop(ctx context.Context) error {
	d.initiateShutdown()
	if err := d.awaitServe(ctx); err != nil {
		return fmt.Errorf("dev supervisor did not stop cleanly: %w", err)
	}
	return nil
}
