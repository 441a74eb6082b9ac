package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	markerPrefix = "::LENGTH="
	markerSuffix = "::"

	// MaxDocumentSize caps the declared length of a single document. FILE
	// requests embed whole file payloads, so the cap is generous, but a
	// corrupt or hostile marker must not make the decoder buffer gigabytes.
	MaxDocumentSize = 64 << 20

	// minDocumentSize is the size of an empty BSON document: a 4-byte
	// length header plus the trailing NUL.
	minDocumentSize = 5

	// maxLengthDigits bounds the decimal run accepted inside a marker.
	// MaxDocumentSize needs 8 digits; anything longer is garbage.
	maxLengthDigits = 10
)

var markerPrefixBytes = []byte(markerPrefix)

// ErrNeedMore signals that the decoder buffer does not hold a complete frame
// yet. Callers feed more bytes and retry.
var ErrNeedMore = errors.New("protocol: need more data")

// ResyncError reports that Next consumed bytes without producing a request,
// either garbage skipped while hunting for the next marker or a complete
// frame whose document failed to decode. The stream stays usable; callers
// log the error and keep draining.
type ResyncError struct {
	Discarded int
	Cause     error
}

func (e *ResyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol: dropped frame of %d bytes: %v", e.Discarded, e.Cause)
	}
	return fmt.Sprintf("protocol: discarded %d bytes searching for frame marker", e.Discarded)
}

func (e *ResyncError) Unwrap() error { return e.Cause }

// wireRequest is the flat document form of a Request. Absent elements
// decode to zero values, which is how optional dest and content travel.
type wireRequest struct {
	Kind       int32      `bson:"_type"`
	Action     int32      `bson:"action"`
	Type       int32      `bson:"type"`
	Src        string     `bson:"src"`
	Dest       string     `bson:"dest"`
	Digest     string     `bson:"md5"`
	Content    []byte     `bson:"content"`
	LogRecord  *LogRecord `bson:"log_record"`
	LogMessage string     `bson:"log_message"`
}

// document builds the BSON form of the request. Only the fields meaningful
// for the kind are emitted; dest and content are omitted when empty so
// receivers can distinguish "absent" from "present and empty".
func (r *Request) document() bson.D {
	doc := bson.D{{Key: "_type", Value: int32(r.Kind)}}
	switch r.Kind {
	case KindFile:
		doc = append(doc,
			bson.E{Key: "action", Value: int32(r.Action)},
			bson.E{Key: "type", Value: int32(r.Type)},
			bson.E{Key: "src", Value: r.Src},
			bson.E{Key: "md5", Value: r.Digest},
		)
		if r.Dest != "" {
			doc = append(doc, bson.E{Key: "dest", Value: r.Dest})
		}
		if len(r.Content) > 0 {
			doc = append(doc, bson.E{Key: "content", Value: r.Content})
		}
	case KindLog:
		if r.LogRecord != nil {
			doc = append(doc, bson.E{Key: "log_record", Value: r.LogRecord})
		}
		if r.LogMessage != "" {
			doc = append(doc, bson.E{Key: "log_message", Value: r.LogMessage})
		}
	}
	return doc
}

// Encode serializes a request to its wire form: the ASCII marker
// `::LENGTH=<N>::` followed by N bytes of BSON document.
func Encode(r *Request) ([]byte, error) {
	doc, err := bson.Marshal(r.document())
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if len(doc) > MaxDocumentSize {
		return nil, fmt.Errorf("document size %d exceeds maximum %d", len(doc), MaxDocumentSize)
	}
	buf := make([]byte, 0, len(markerPrefix)+len(markerSuffix)+20+len(doc))
	buf = append(buf, markerPrefix...)
	buf = strconv.AppendInt(buf, int64(len(doc)), 10)
	buf = append(buf, markerSuffix...)
	return append(buf, doc...), nil
}

// Decoder reassembles requests from an arbitrarily chunked byte stream.
// Feed appends raw reads, Next drains complete frames. The decoder never
// loses sync permanently: after a malformed marker it discards bytes up to
// the next plausible marker start and reports how many were dropped.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends raw bytes read from the connection.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held but not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops all buffered bytes. Used when a connection is replaced so a
// partial frame from the old stream cannot corrupt the new one.
func (d *Decoder) Reset() {
	d.buf = nil
}

// Next extracts the next request from the buffer.
//
// It returns ErrNeedMore when the buffer holds only part of a frame, a
// *ResyncError when bytes had to be discarded (the stream remains usable),
// and otherwise one decoded request per call until the buffer is drained.
func (d *Decoder) Next() (*Request, error) {
	if len(d.buf) == 0 {
		return nil, ErrNeedMore
	}
	if !bytes.HasPrefix(d.buf, markerPrefixBytes) {
		// Short buffers that could still grow into a marker are not an
		// error, just incomplete.
		if len(d.buf) < len(markerPrefixBytes) && bytes.HasPrefix(markerPrefixBytes, d.buf) {
			return nil, ErrNeedMore
		}
		return nil, &ResyncError{Discarded: d.resync(0)}
	}

	i := len(markerPrefixBytes)
	for i < len(d.buf) && d.buf[i] >= '0' && d.buf[i] <= '9' {
		i++
	}
	digits := i - len(markerPrefixBytes)
	if digits > maxLengthDigits {
		return nil, &ResyncError{Discarded: d.resync(2)}
	}
	if i == len(d.buf) {
		return nil, ErrNeedMore
	}
	if digits == 0 || d.buf[i] != ':' {
		return nil, &ResyncError{Discarded: d.resync(2)}
	}
	if i+1 == len(d.buf) {
		return nil, ErrNeedMore
	}
	if d.buf[i+1] != ':' {
		return nil, &ResyncError{Discarded: d.resync(2)}
	}

	n, err := strconv.Atoi(string(d.buf[len(markerPrefixBytes):i]))
	if err != nil || n < minDocumentSize || n > MaxDocumentSize {
		return nil, &ResyncError{Discarded: d.resync(2)}
	}

	start := i + len(markerSuffix)
	if len(d.buf) < start+n {
		return nil, ErrNeedMore
	}

	// Copy the document out so decoded byte fields never alias the shared
	// stream buffer.
	doc := make([]byte, n)
	copy(doc, d.buf[start:start+n])
	d.buf = d.buf[start+n:]

	req, err := decodeDocument(doc)
	if err != nil {
		return nil, &ResyncError{Discarded: start + n, Cause: err}
	}
	return req, nil
}

// resync discards buffered bytes from the front until the next occurrence of
// the marker prefix at or beyond from, keeping any trailing fragment that
// could still complete into a marker. It returns the count discarded.
func (d *Decoder) resync(from int) int {
	if from > len(d.buf) {
		from = len(d.buf)
	}
	if idx := bytes.Index(d.buf[from:], markerPrefixBytes); idx >= 0 {
		n := from + idx
		d.buf = d.buf[n:]
		return n
	}
	keep := 0
	max := len(markerPrefixBytes) - 1
	if len(d.buf) < max {
		max = len(d.buf)
	}
	for k := max; k > 0; k-- {
		if bytes.Equal(d.buf[len(d.buf)-k:], markerPrefixBytes[:k]) {
			keep = k
			break
		}
	}
	n := len(d.buf) - keep
	d.buf = d.buf[n:]
	return n
}

// decodeDocument unmarshals one BSON document into a Request. Kinds outside
// the known range degrade to KindUnknown so endpoints can log and drop them
// without tearing the stream down.
func decodeDocument(doc []byte) (*Request, error) {
	var w wireRequest
	if err := bson.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	kind := Kind(w.Kind)
	if kind < KindUnknown || kind > KindPong {
		kind = KindUnknown
	}
	return &Request{
		Kind:       kind,
		Action:     FileAction(w.Action),
		Type:       FileType(w.Type),
		Src:        w.Src,
		Dest:       w.Dest,
		Digest:     w.Digest,
		Content:    w.Content,
		LogRecord:  w.LogRecord,
		LogMessage: w.LogMessage,
	}, nil
}
