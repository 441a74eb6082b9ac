// Package logpipe ships exec-side log output to the connected dev endpoint
// and writes received log requests into a rotating file on the dev side.
//
// Three shipping modes exist. Disabled ships nothing. Internal installs a
// handler next to the process logger and converts every emitted record into
// a LOG request. External follows a named log file and ships each complete
// line, with a sibling offset file making restarts replay-free.
package logpipe

import (
	"context"
	"fmt"

	"github.com/marmos91/remotedev/internal/logger"
	"github.com/marmos91/remotedev/pkg/protocol"
)

// Sink receives the LOG requests the pipeline produces. Implementations must
// be safe for concurrent use; the internal handler calls it from whichever
// goroutine happens to log.
type Sink func(*protocol.Request)

// Mode selects how the exec side ships its logs.
type Mode int

const (
	ModeDisabled Mode = iota
	ModeInternal
	ModeExternal
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "DISABLED"
	case ModeInternal:
		return "INTERNAL"
	case ModeExternal:
		return "EXTERNAL"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFor derives the shipping mode from the exec profile: remote logging
// off disables shipping, a configured file path means external tailing, and
// otherwise the process's own records are shipped.
func ModeFor(remoteLogging bool, logFilePath string) Mode {
	switch {
	case !remoteLogging:
		return ModeDisabled
	case logFilePath != "":
		return ModeExternal
	default:
		return ModeInternal
	}
}

// Shipper runs one shipping mode for the lifetime of a client session.
type Shipper struct {
	mode   Mode
	sink   Sink
	tailer *Tailer
}

// NewShipper builds a shipper for the given mode. External mode requires the
// tailed file to exist.
func NewShipper(mode Mode, logFilePath string, sink Sink) (*Shipper, error) {
	if sink == nil && mode != ModeDisabled {
		return nil, fmt.Errorf("log shipper needs a sink")
	}

	s := &Shipper{mode: mode, sink: sink}
	if mode == ModeExternal {
		tailer, err := NewTailer(logFilePath, sink)
		if err != nil {
			return nil, err
		}
		s.tailer = tailer
	}
	return s, nil
}

// Mode returns the shipping mode the shipper was built for.
func (s *Shipper) Mode() Mode {
	return s.mode
}

// Run ships logs until ctx is cancelled. Internal mode tees the process
// logger for the duration of the call.
func (s *Shipper) Run(ctx context.Context) error {
	logger.Info("log shipping started", logger.KeyMode, s.mode.String())
	defer logger.Debug("log shipping stopped", logger.KeyMode, s.mode.String())

	switch s.mode {
	case ModeInternal:
		logger.SetTee(NewHandler(s.sink))
		defer logger.ClearTee()
		<-ctx.Done()
		return nil
	case ModeExternal:
		return s.tailer.Run(ctx)
	default:
		<-ctx.Done()
		return nil
	}
}
