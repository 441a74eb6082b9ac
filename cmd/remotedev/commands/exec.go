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
)

var (
	execProfileName string
	execDaemon      bool
	pidFile         string
	daemonLogFile   string
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run the execution-host side of the mirror",
	Long: `Run the execution-host side of the mirror.

Listens on the loopback service port for the dev side arriving through its
SSH forward, applies incoming file changes according to the profile's
mappings, watches the mapped destinations for changes to push back, and
ships the configured log to the connected workstation.

Use --daemon to detach into the background with a PID file, mirroring a
service-style deployment.

Examples:
  # Run in the foreground
  remotedev exec --profile prod

  # Run detached in the background
  remotedev exec --profile prod --daemon

  # Stop a detached instance
  kill $(cat ~/.local/state/remotedev/remotedev.pid)`,
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVarP(&execProfileName, "profile", "p", "", "Profile name (interactive selection when omitted)")
	execCmd.Flags().BoolVarP(&execDaemon, "daemon", "d", false, "Run detached in the background")
	execCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/remotedev/remotedev.pid)")
	execCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/remotedev/remotedev.log)")
}

func runExec(cmd *cobra.Command, args []string) error {
	store, err := openExecStore()
	if err != nil {
		return err
	}

	// Resolve the profile before any fork: the detached child has no
	// terminal to run the interactive selection on.
	name, profile, err := resolveExecProfile(store, execProfileName)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}

	if execDaemon {
		return startDaemon(name)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncMetrics := startMetrics(ctx, profile.MetricsAddr)

	x, err := supervisor.NewExec(supervisor.ExecConfig{
		Mappings:      profile.CompiledMappings(),
		LogFilePath:   profile.LogFilePath,
		RemoteLogging: profile.IsRemoteLoggingEnabled(),
		Metrics:       syncMetrics,
	})
	if err != nil {
		return err
	}

	logger.Info("Serving mirror clients",
		logger.KeyProfile, name,
		"mappings", len(profile.Mappings))

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the listener in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- x.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
