package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/remotedev/internal/cli/prompt"
	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/config"
	"github.com/marmos91/remotedev/pkg/metrics"
	promMetrics "github.com/marmos91/remotedev/pkg/metrics/prometheus"
)

// GetDefaultStateDir returns the default state directory path, used for PID
// files, daemon logs and mirrored remote logs.
func GetDefaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "remotedev")
}

// GetDefaultPidFile returns the default PID file path for daemon mode.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "remotedev.pid")
}

// GetDefaultDaemonLogFile returns the default log file path for daemon mode.
func GetDefaultDaemonLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "remotedev.log")
}

// openDevStore opens the dev profile store honoring the --config flag.
func openDevStore() (*config.DevStore, error) {
	store, err := config.NewDevStore(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open dev profile store: %w", err)
	}
	return store, nil
}

// openExecStore opens the exec profile store honoring the --config flag.
func openExecStore() (*config.ExecStore, error) {
	store, err := config.NewExecStore(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open exec profile store: %w", err)
	}
	return store, nil
}

// resolveDevProfile picks the dev profile to run: the named one, the only
// one, or an interactive selection when several exist.
func resolveDevProfile(store *config.DevStore, name string) (string, *config.DevProfile, error) {
	if name != "" {
		p, err := store.LoadProfile(name)
		if err != nil {
			return "", nil, err
		}
		return name, p, nil
	}

	profiles, err := store.Load()
	if err != nil {
		return "", nil, err
	}
	switch len(profiles) {
	case 0:
		return "", nil, fmt.Errorf("no dev profiles in %s\nCreate one first:\n  remotedev profile create", store.Path())
	case 1:
		for n, p := range profiles {
			return n, p, nil
		}
	}

	options := make([]prompt.SelectOption, 0, len(profiles))
	for _, n := range sortedKeys(profiles) {
		options = append(options, prompt.SelectOption{
			Label:       n,
			Value:       n,
			Description: profiles[n].String(),
		})
	}
	selected, err := prompt.Select("Select profile", options)
	if err != nil {
		return "", nil, err
	}
	return selected, profiles[selected], nil
}

// resolveExecProfile is resolveDevProfile for the exec side.
func resolveExecProfile(store *config.ExecStore, name string) (string, *config.ExecProfile, error) {
	if name != "" {
		p, err := store.LoadProfile(name)
		if err != nil {
			return "", nil, err
		}
		return name, p, nil
	}

	profiles, err := store.Load()
	if err != nil {
		return "", nil, err
	}
	switch len(profiles) {
	case 0:
		return "", nil, fmt.Errorf("no exec profiles in %s\nCreate one first:\n  remotedev profile create --side exec", store.Path())
	case 1:
		for n, p := range profiles {
			return n, p, nil
		}
	}

	options := make([]prompt.SelectOption, 0, len(profiles))
	for _, n := range sortedKeys(profiles) {
		options = append(options, prompt.SelectOption{
			Label:       n,
			Value:       n,
			Description: fmt.Sprintf("%d mappings", len(profiles[n].Mappings)),
		})
	}
	selected, err := prompt.Select("Select profile", options)
	if err != nil {
		return "", nil, err
	}
	return selected, profiles[selected], nil
}

// startMetrics starts the optional metrics endpoint and returns the sync
// recorder, or nil when no address is configured. The server stops with the
// context.
func startMetrics(ctx context.Context, addr string) metrics.SyncMetrics {
	if addr == "" {
		return nil
	}
	srv := metrics.NewServer(addr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Error("metrics server error", logger.Err(err))
		}
	}()
	return promMetrics.NewSyncMetrics()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
