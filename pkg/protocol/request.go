// Package protocol defines the request model exchanged between the dev and
// exec endpoints and the length-prefixed document codec that carries it.
//
// Every request travels as one BSON document preceded by the ASCII marker
// `::LENGTH=<N>::`, where N is the decimal byte length of the document.
// Documents are self-describing, so both sides tolerate unknown fields and
// unknown kinds degrade to KindUnknown instead of breaking the stream.
package protocol

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Kind discriminates the request payload.
type Kind int32

const (
	KindUnknown Kind = 0
	KindGoodbye Kind = 1
	KindFile    Kind = 2
	KindLog     Kind = 3
	KindPing    Kind = 4
	KindPong    Kind = 5
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindGoodbye:
		return "GOODBYE"
	case KindFile:
		return "FILE"
	case KindLog:
		return "LOG"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// FileAction is the mutation carried by a FILE request.
type FileAction int32

const (
	ActionUpdate FileAction = 0
	ActionMove   FileAction = 1
	ActionCreate FileAction = 2
	ActionDelete FileAction = 3
)

// String returns the action name.
func (a FileAction) String() string {
	switch a {
	case ActionUpdate:
		return "UPDATE"
	case ActionMove:
		return "MOVE"
	case ActionCreate:
		return "CREATE"
	case ActionDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("ACTION(%d)", int32(a))
	}
}

// FileType distinguishes files from directories.
type FileType int32

const (
	TypeFile FileType = 0
	TypeDir  FileType = 1
)

// String returns the type name.
func (t FileType) String() string {
	if t == TypeDir {
		return "DIR"
	}
	return "FILE"
}

// LogRecord is the structured form of a LOG request, mirroring the fields a
// process logger attaches to each record.
type LogRecord struct {
	Name     string `bson:"name"`
	Level    int32  `bson:"lvl"`
	File     string `bson:"fn"`
	Line     int32  `bson:"lno"`
	Message  string `bson:"msg"`
	Function string `bson:"func"`
}

// Request is the unit of exchange between the two endpoints.
//
// Invariants on the wire: Src is always a forward-slash relative path, Dest
// is present exactly for MOVE, directories never carry content, and Digest
// matches Content whenever both are set. The path mapper and the request
// builders uphold these; the codec only transports them.
type Request struct {
	Kind Kind

	// FILE fields
	Action  FileAction
	Type    FileType
	Src     string
	Dest    string
	Content []byte
	Digest  string

	// LOG fields; exactly one is set for a well-formed LOG request
	LogRecord  *LogRecord
	LogMessage string
}

// ContentDigest returns the lower-case hex digest used to pair FILE request
// payloads with their checksum.
func ContentDigest(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// NewFileRequest builds a FILE request. Content may be nil for actions that
// carry none; when present the digest is computed here so content and digest
// cannot drift apart.
func NewFileRequest(action FileAction, typ FileType, src, dest string, content []byte) *Request {
	r := &Request{
		Kind:    KindFile,
		Action:  action,
		Type:    typ,
		Src:     src,
		Dest:    dest,
		Content: content,
	}
	if len(content) > 0 {
		r.Digest = ContentDigest(content)
	}
	return r
}

// NewLogRecordRequest builds a LOG request carrying a structured record.
func NewLogRecordRequest(rec *LogRecord) *Request {
	return &Request{Kind: KindLog, LogRecord: rec}
}

// NewLogMessageRequest builds a LOG request carrying a free-form line.
func NewLogMessageRequest(message string) *Request {
	return &Request{Kind: KindLog, LogMessage: message}
}

// NewGoodbye builds the orderly-shutdown signal.
func NewGoodbye() *Request {
	return &Request{Kind: KindGoodbye}
}

// NewPing builds a liveness probe.
func NewPing() *Request {
	return &Request{Kind: KindPing}
}

// NewPong builds the liveness reply.
func NewPong() *Request {
	return &Request{Kind: KindPong}
}

// IsEmptyLog reports whether a LOG request carries neither form of payload.
// Empty log requests are dropped before they reach the wire.
func (r *Request) IsEmptyLog() bool {
	if r.LogRecord != nil && r.LogRecord.Message != "" {
		return false
	}
	return r.LogMessage == ""
}

// String renders a debugging form of the request.
func (r *Request) String() string {
	switch r.Kind {
	case KindFile:
		return fmt.Sprintf("FileRequest(action=%s type=%s src=%s dest=%s content=%d bytes digest=%s)",
			r.Action, r.Type, r.Src, r.Dest, len(r.Content), r.Digest)
	case KindLog:
		if r.LogRecord != nil {
			return fmt.Sprintf("LogRequest(record=%s)", r.LogRecord.Message)
		}
		if r.LogMessage != "" {
			return fmt.Sprintf("LogRequest(message=%s)", r.LogMessage)
		}
		return "LogRequest(empty)"
	default:
		return fmt.Sprintf("%sRequest()", title(r.Kind.String()))
	}
}

// LogString renders the short form used when reporting applied traffic.
func (r *Request) LogString() string {
	if r.Kind != KindFile {
		return r.String()
	}
	switch r.Action {
	case ActionUpdate, ActionCreate:
		return fmt.Sprintf("%s %s %s (%d bytes md5:%s)", title(r.Action.String()), r.Type, r.Src, len(r.Content), r.Digest)
	case ActionDelete:
		return fmt.Sprintf("Delete %s %s", r.Type, r.Src)
	default:
		return fmt.Sprintf("Move %s %s to %s", r.Type, r.Src, r.Dest)
	}
}

// title lower-cases all but the first rune of an ASCII keyword.
func title(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	for i := 1; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
