package logpipe

import (
	"fmt"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/protocol"
)

const (
	// Rotation policy for mirrored remote logs.
	maxLogSizeMB  = 2
	maxLogBackups = 2
)

// Receiver writes LOG requests received from the exec side into a rotating
// file named after the remote host. Structured records land as their message
// text, free-form lines land verbatim.
type Receiver struct {
	path   string
	writer *lumberjack.Logger
}

// ReceivedLogPath returns where the receiver mirrors logs from remoteHost.
func ReceivedLogPath(dataDir, remoteHost string) string {
	return filepath.Join(dataDir, fmt.Sprintf("remote_%s.log", remoteHost))
}

// NewReceiver builds a receiver writing to "remote_<host>.log" under
// dataDir. The file and its parents are created on first write.
func NewReceiver(dataDir, remoteHost string) *Receiver {
	path := ReceivedLogPath(dataDir, remoteHost)
	return &Receiver{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
		},
	}
}

// Path returns the active log file path.
func (r *Receiver) Path() string {
	return r.path
}

// Handle writes one LOG request. It is called from the endpoint receive loop
// only, so writes never interleave.
func (r *Receiver) Handle(req *protocol.Request) {
	switch {
	case req.LogRecord != nil && req.LogRecord.Message != "":
		r.write(req.LogRecord.Message)
	case req.LogMessage != "":
		r.write(req.LogMessage)
	default:
		logger.Warn("received empty log request")
	}
}

// Close flushes and closes the underlying file.
func (r *Receiver) Close() error {
	return r.writer.Close()
}

func (r *Receiver) write(line string) {
	if _, err := r.writer.Write([]byte(line + "\n")); err != nil {
		logger.Warn("cannot write remote log", logger.Err(err), logger.KeyFile, r.path)
	}
}
