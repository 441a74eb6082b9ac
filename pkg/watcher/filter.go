package watcher

import (
	"path/filepath"
	"strings"
)

// Editor scratch files that must never cross the wire.
var rejectedExtensions = map[string]struct{}{
	".swp":    {}, // vim swap
	".swpx":   {}, // vim swap
	".swx":    {}, // vim swap
	".tmp":    {},
	".offset": {}, // tail bookkeeping
}

var rejectedBasenames = map[string]struct{}{
	"4913":       {}, // vim permission probe
	".gitignore": {},
}

var rejectedSegments = map[string]struct{}{
	".git":    {},
	".vscode": {},
	".editor": {},
}

// tildeName reports whether the path's basename looks like an editor backup
// (emacs-style trailing tilde or office-style leading tilde).
func tildeName(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "~") || strings.HasSuffix(base, "~")
}

// insideRejectedDir reports whether any segment of the path names a
// directory that is never mirrored.
func insideRejectedDir(path string) bool {
	for _, segment := range strings.Split(path, string(filepath.Separator)) {
		if _, ok := rejectedSegments[segment]; ok {
			return true
		}
	}
	return false
}

// dropReason applies the name-based drop rules in order and returns a short
// human-readable reason for the first rule that matches, or "" when the
// event survives them all. dest is empty except for renames.
func (w *Watcher) dropReason(src, dest string) string {
	if src == "" || src == "." || src == w.selfPath {
		return "not a real change"
	}
	if _, ok := w.dropList[filepath.Clean(src)]; ok {
		return "drop list"
	}
	if _, ok := rejectedExtensions[filepath.Ext(src)]; ok {
		return "scratch extension"
	}
	if tildeName(src) || (dest != "" && tildeName(dest)) {
		return "editor backup name"
	}
	if _, ok := rejectedBasenames[filepath.Base(src)]; ok {
		return "probe file"
	}
	if insideRejectedDir(src) {
		return "ignored directory"
	}
	return ""
}
