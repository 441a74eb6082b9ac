package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// syncContextKey is the key for SyncContext in context.Context
var syncContextKey = contextKey{}

// SyncContext holds session-scoped logging context. The supervisors attach
// one per endpoint so every record carries the session identity.
type SyncContext struct {
	SessionID  string    // exec-side client session id
	Profile    string    // active profile name
	RemoteHost string    // dev-side target host
	ClientIP   string    // exec-side accepted client address
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given SyncContext
func WithContext(ctx context.Context, sc *SyncContext) context.Context {
	return context.WithValue(ctx, syncContextKey, sc)
}

// FromContext retrieves the SyncContext from context, or nil if not present
func FromContext(ctx context.Context) *SyncContext {
	if ctx == nil {
		return nil
	}
	sc, _ := ctx.Value(syncContextKey).(*SyncContext)
	return sc
}

// NewSyncContext creates a new SyncContext with the given profile name
func NewSyncContext(profile string) *SyncContext {
	return &SyncContext{
		Profile:   profile,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the SyncContext
func (sc *SyncContext) Clone() *SyncContext {
	if sc == nil {
		return nil
	}
	out := *sc
	return &out
}

// WithSession returns a copy with the session id set
func (sc *SyncContext) WithSession(id string) *SyncContext {
	clone := sc.Clone()
	if clone != nil {
		clone.SessionID = id
	}
	return clone
}

// WithClient returns a copy with the client address set
func (sc *SyncContext) WithClient(addr string) *SyncContext {
	clone := sc.Clone()
	if clone != nil {
		clone.ClientIP = addr
	}
	return clone
}

// WithRemote returns a copy with the remote host set
func (sc *SyncContext) WithRemote(host string) *SyncContext {
	clone := sc.Clone()
	if clone != nil {
		clone.RemoteHost = host
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (sc *SyncContext) DurationMs() float64 {
	if sc == nil || sc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(sc.StartTime).Microseconds()) / 1000.0
}
