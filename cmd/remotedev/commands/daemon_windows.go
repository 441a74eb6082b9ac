//go:build windows

package commands

import "fmt"

// startDaemon is not supported on Windows.
// Run the exec side in the foreground under a service manager instead.
func startDaemon(profileName string) error {
	return fmt.Errorf("daemon mode is not supported on Windows, run without --daemon")
}
