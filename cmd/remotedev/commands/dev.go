package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/remotedev/internal/cli/prompt"
	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/supervisor"
	"github.com/marmos91/remotedev/pkg/tunnel"
)

var devProfileName string

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the workstation side of the mirror",
	Long: `Run the workstation side of the mirror.

Opens an SSH tunnel to the exec host from the selected profile, watches the
local directory and pushes every change to the remote side. Changes applied
on the remote side come back through the same connection, and the remote
application log is mirrored under the local state directory.

The connection reconnects on its own; leave the command running while you
work.

Examples:
  # Run with the only profile, or pick one interactively
  remotedev dev

  # Run a specific profile
  remotedev dev --profile mybox

  # Verbose logging
  remotedev dev --profile mybox --log-level DEBUG`,
	RunE: runDev,
}

func init() {
	devCmd.Flags().StringVarP(&devProfileName, "profile", "p", "", "Profile name (interactive selection when omitted)")
}

func runDev(cmd *cobra.Command, args []string) error {
	store, err := openDevStore()
	if err != nil {
		return err
	}

	name, profile, err := resolveDevProfile(store, devProfileName)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncMetrics := startMetrics(ctx, profile.MetricsAddr)

	dev, err := supervisor.NewDev(supervisor.DevConfig{
		Tunnel: tunnel.Config{
			Host:     profile.RemoteHost,
			Port:     profile.RemotePort,
			Username: profile.SSHUsername,
			Password: profile.SSHPassword,
		},
		LocalDir: profile.LocalDir,
		DataDir:  GetDefaultStateDir(),
		Metrics:  syncMetrics,
	})
	if err != nil {
		return err
	}

	logger.Info("Mirroring local directory",
		logger.KeyProfile, name,
		logger.KeyPath, profile.LocalDir,
		logger.KeyRemoteHost, profile.RemoteHost,
		logger.KeyRemotePort, profile.RemotePort)

	// Start the mirror in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- dev.Serve(ctx)
	}()

	// Wait for interrupt signal or mirror error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Mirror is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Mirror shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Mirror stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Mirror error", logger.Err(err))
			return err
		}
		logger.Info("Mirror stopped")
	}

	return nil
}
