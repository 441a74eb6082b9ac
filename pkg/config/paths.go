package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName  = "remotedev"
	devConfigFile  = "dev.yaml"
	execConfigFile = "exec.yaml"
)

// DefaultDevConfigPath returns the default workstation profile file,
// <user config dir>/remotedev/dev.yaml.
func DefaultDevConfigPath() (string, error) {
	return defaultConfigPath(devConfigFile)
}

// DefaultExecConfigPath returns the default execution-host profile file,
// <user config dir>/remotedev/exec.yaml.
func DefaultExecConfigPath() (string, error) {
	return defaultConfigPath(execConfigFile)
}

func defaultConfigPath(file string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config directory: %w", err)
	}
	return filepath.Join(base, configDirName, file), nil
}
