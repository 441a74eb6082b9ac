package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false // Disable colors for easier testing
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.Contains(t, output, "debug message")
		assert.Contains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Debug("debug message")
		Info("info message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.Contains(t, output, "info message")
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.Contains(t, output, "warn message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.NotContains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("LOUD")

		Info("still info")
		assert.Contains(t, buf.String(), "still info")
	})
}

func TestStructuredFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("text")

	Info("request sent", KeySrc, "src/a.txt", KeySize, 2)

	output := buf.String()
	assert.Contains(t, output, "request sent")
	assert.Contains(t, output, "src=src/a.txt")
	assert.Contains(t, output, "size=2")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("connected", KeyRemoteHost, "device.local")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "device.local", entry[KeyRemoteHost])
}

func TestPrintfHelpers(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("DEBUG")

	Debugf("queued %d requests", 3)
	Infof("profile %q loaded", "pi")
	Warnf("retry in %ds", 2)
	Errorf("gave up after %d attempts", 11)

	output := buf.String()
	assert.Contains(t, output, "queued 3 requests")
	assert.Contains(t, output, `profile "pi" loaded`)
	assert.Contains(t, output, "retry in 2s")
	assert.Contains(t, output, "gave up after 11 attempts")
}

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	sc := NewSyncContext("pi").WithSession("abc-123").WithClient("127.0.0.1")
	ctx := WithContext(context.Background(), sc)

	InfoCtx(ctx, "client accepted")

	output := buf.String()
	assert.Contains(t, output, "client accepted")
	assert.Contains(t, output, "session_id=abc-123")
	assert.Contains(t, output, "profile=pi")
	assert.Contains(t, output, "client_ip=127.0.0.1")
}

func TestContextNilSafe(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	InfoCtx(context.Background(), "no sync context")
	assert.Contains(t, buf.String(), "no sync context")

	assert.Nil(t, FromContext(nil))
	var sc *SyncContext
	assert.Nil(t, sc.Clone())
	assert.Zero(t, sc.DurationMs())
}

// recordingHandler collects records for fanout tests.
type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.messages = append(h.messages, r.Message)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

func TestSetTee(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	sink := &recordingHandler{}
	SetTee(sink)

	Info("goes both ways")

	ClearTee()
	Info("local only")

	assert.Contains(t, buf.String(), "goes both ways")
	assert.Contains(t, buf.String(), "local only")
	assert.Equal(t, []string{"goes both ways"}, sink.all())
}

func TestErrAttr(t *testing.T) {
	assert.Equal(t, slog.Attr{}, Err(nil))

	attr := Err(assert.AnError)
	assert.Equal(t, KeyError, attr.Key)
	assert.Contains(t, attr.Value.String(), "assert.AnError")
}
