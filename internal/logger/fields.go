package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the mirrored
// dev log and the local console stay greppable.
const (
	// Requests & protocol
	KeyKind    = "kind"    // request kind: FILE, LOG, PING, ...
	KeyAction  = "action"  // file action: CREATE, UPDATE, MOVE, DELETE
	KeyType    = "type"    // entry type: file, dir
	KeySrc     = "src"     // wire-relative source path
	KeyDest    = "dest"    // wire-relative destination path (MOVE)
	KeySize    = "size"    // content size in bytes
	KeyDigest  = "digest"  // content digest (hex)
	KeyReason  = "reason"  // drop reason: filtered, unmapped, loop, ...
	KeyRequest = "request" // rendered request summary

	// Filesystem
	KeyPath    = "path"    // absolute local path
	KeyOldPath = "old_path" // rename source
	KeyNewPath = "new_path" // rename destination
	KeyLink    = "link"    // symlink path
	KeyMapping = "mapping" // mapping source pattern

	// Connection & session
	KeySessionID  = "session_id"  // exec-side client session id
	KeyClientIP   = "client_ip"   // accepted client address
	KeyRemoteHost = "remote_host" // dev-side target host
	KeyRemotePort = "remote_port" // dev-side target ssh port
	KeyProfile    = "profile"     // active profile name
	KeyState      = "state"       // endpoint connection state
	KeyAttempt    = "attempt"     // consecutive failure counter
	KeyAddr       = "addr"        // listen or dial address

	// Operation metadata
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyFile       = "file"        // log pipeline: tailed or written file
	KeyOffset     = "offset"      // log pipeline: tail offset
	KeyMode       = "mode"        // log pipeline mode
)

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Path returns a slog.Attr for an absolute local path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Src returns a slog.Attr for a wire-relative source path
func Src(p string) slog.Attr {
	return slog.String(KeySrc, p)
}

// Dest returns a slog.Attr for a wire-relative destination path
func Dest(p string) slog.Attr {
	return slog.String(KeyDest, p)
}

// Reason returns a slog.Attr for a drop reason
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// SessionID returns a slog.Attr for an exec-side client session id
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
