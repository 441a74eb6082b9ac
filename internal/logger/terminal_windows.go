//go:build windows

package logger

import "golang.org/x/sys/windows"

// isTerminal checks if the file descriptor is attached to a console
func isTerminal(fd uintptr) bool {
	var mode uint32
	err := windows.GetConsoleMode(windows.Handle(fd), &mode)
	return err == nil
}
