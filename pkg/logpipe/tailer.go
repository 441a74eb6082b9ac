package logpipe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/protocol"
)

const (
	// pollInterval is the pause between drains of the tailed file.
	pollInterval = 500 * time.Millisecond

	// offsetSuffix names the sibling file holding the persisted byte offset.
	offsetSuffix = ".offset"
)

// OffsetPath returns the sibling file a tailer for path persists its byte
// offset to. Watchers covering the tailed file must drop both paths.
func OffsetPath(path string) string {
	return path + offsetSuffix
}

// Tailer follows a log file and ships every complete line as a log_message
// request. The byte offset after each drain is persisted to a sibling
// "<file>.offset" file, so a restarted process resumes where the previous
// one stopped instead of replaying the whole file.
//
// A first start without an offset file begins at the current end of the
// file. A file that shrank below the saved offset was truncated or rotated
// in place and is re-read from the top.
type Tailer struct {
	path       string
	offsetPath string
	sink       Sink
	offset     int64
}

// NewTailer validates that path exists and positions the tailer for its
// first drain.
func NewTailer(path string, sink Sink) (*Tailer, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("tailer needs a sink")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tailed log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("tailed log file %q is a directory", path)
	}

	t := &Tailer{
		path:       path,
		offsetPath: OffsetPath(path),
		sink:       sink,
	}
	t.restoreOffset(info.Size())
	return t, nil
}

// Run drains the file every poll interval until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	logger.Debug("tailer started", logger.KeyFile, t.path, logger.KeyOffset, t.offset)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("tailer stopped", logger.KeyFile, t.path, logger.KeyOffset, t.offset)
			return nil
		case <-ticker.C:
			if err := t.drain(); err != nil {
				logger.Warn("tail drain failed", logger.Err(err), logger.KeyFile, t.path)
			}
		}
	}
}

// restoreOffset resumes from the persisted offset when one exists. Without
// one (or with an unreadable one) the tailer starts at the end of the file
// and persists that position immediately, so lines written before the first
// start are never replayed.
func (t *Tailer) restoreOffset(size int64) {
	raw, err := os.ReadFile(t.offsetPath)
	if err == nil {
		offset, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr == nil && offset >= 0 {
			t.offset = offset
			return
		}
		logger.Warn("discarding unreadable offset file", logger.KeyFile, t.offsetPath)
	}

	t.offset = size
	if err := t.persistOffset(); err != nil {
		logger.Warn("cannot persist tail offset", logger.Err(err), logger.KeyFile, t.offsetPath)
	}
}

// drain ships every complete line past the current offset. A trailing
// partial line stays in the file for a later drain.
func (t *Tailer) drain() error {
	info, err := os.Stat(t.path)
	if err != nil {
		return err
	}
	if info.Size() < t.offset {
		logger.Debug("tailed file shrank, reading from the top", logger.KeyFile, t.path)
		t.offset = 0
	}
	if info.Size() == t.offset {
		return nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	drained := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		t.offset += int64(len(line))
		drained = true
		t.emit(line)
	}

	if !drained {
		return nil
	}
	return t.persistOffset()
}

func (t *Tailer) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.sink(protocol.NewLogMessageRequest(line))
}

func (t *Tailer) persistOffset() error {
	return os.WriteFile(t.offsetPath, []byte(strconv.FormatInt(t.offset, 10)+"\n"), 0o644)
}
