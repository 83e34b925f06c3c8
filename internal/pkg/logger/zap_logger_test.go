package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerWritesStructuredLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.log")
	l := NewIsolatedLogger(path)

	l.Info("Hub", "Client joined", map[string]interface{}{"document_id": "d1"})
	l.Debug("Hub", "below file level", nil)
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "Client joined", entry["message"])
	assert.Equal(t, "Hub", entry["module"])
	assert.Equal(t, "d1", entry["details"].(map[string]interface{})["document_id"])
}

func TestNopLoggerAcceptsNilDetails(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Error("Test", "nothing", nil)
		_ = l.Sync()
	})
}

type recordingLogger struct {
	entries []map[string]interface{}
}

func (r *recordingLogger) record(level, module, message string, details map[string]interface{}) {
	r.entries = append(r.entries, map[string]interface{}{"level": level, "module": module, "message": message, "details": details})
}

func (r *recordingLogger) Debug(module, message string, details map[string]interface{}) {
	r.record("DEBUG", module, message, details)
}
func (r *recordingLogger) Info(module, message string, details map[string]interface{}) {
	r.record("INFO", module, message, details)
}
func (r *recordingLogger) Warn(module, message string, details map[string]interface{}) {
	r.record("WARN", module, message, details)
}
func (r *recordingLogger) Error(module, message string, details map[string]interface{}) {
	r.record("ERROR", module, message, details)
}
func (r *recordingLogger) Sync() error { return nil }

func TestWatermillAdapterMergesFields(t *testing.T) {
	rec := &recordingLogger{}
	a := NewWatermillAdapter(rec, "Broadcast").With(map[string]interface{}{"topic": "documents.x.lock"})

	a.Error("publish failed", assert.AnError, map[string]interface{}{"message_uuid": "m1"})
	a.Trace("acked", nil)

	require.Len(t, rec.entries, 2)
	first := rec.entries[0]
	assert.Equal(t, "ERROR", first["level"])
	assert.Equal(t, "Broadcast", first["module"])
	details := first["details"].(map[string]interface{})
	assert.Equal(t, "documents.x.lock", details["topic"])
	assert.Equal(t, "m1", details["message_uuid"])
	assert.Equal(t, assert.AnError.Error(), details["error"])
	assert.Equal(t, "DEBUG", rec.entries[1]["level"])
}
